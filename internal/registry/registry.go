// Package registry answers image-metadata questions straight from the
// image registry. The proxy has no local image store, so inspect and pull
// resolve tags against the registry the reference names.
package registry

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Backends run linux/amd64 executors, so metadata is resolved for that
// platform regardless of the proxy host.
var defaultPlatform = v1.Platform{OS: "linux", Architecture: "amd64"}

// GraphDriver mirrors the storage-driver stanza of docker image inspect.
// The proxy stores nothing locally, so the data side is always empty.
type GraphDriver struct {
	Data map[string]string `json:"Data"`
	Name string            `json:"Name"`
}

// RootFS lists the uncompressed layer digests of the image.
type RootFS struct {
	Type   string   `json:"Type"`
	Layers []string `json:"Layers"`
}

// Metadata carries the trailing stanza docker emits for local images.
type Metadata struct {
	LastTagTime string `json:"LastTagTime"`
}

// ImageSummary is the docker-image-inspect shaped description of a remote
// image. Field names and order follow the docker CLI output so existing
// tooling can parse it.
type ImageSummary struct {
	ID            string      `json:"Id"`
	RepoTags      []string    `json:"RepoTags"`
	RepoDigests   []string    `json:"RepoDigests"`
	Parent        string      `json:"Parent"`
	Comment       string      `json:"Comment"`
	Created       string      `json:"Created"`
	DockerVersion string      `json:"DockerVersion"`
	Author        string      `json:"Author"`
	Config        v1.Config   `json:"Config"`
	Architecture  string      `json:"Architecture"`
	Os            string      `json:"Os"`
	Size          int64       `json:"Size"`
	GraphDriver   GraphDriver `json:"GraphDriver"`
	RootFS        RootFS      `json:"RootFS"`
	Metadata      Metadata    `json:"Metadata"`
}

// Resolve parses tag and fetches the image descriptor for the default
// platform, authenticating with the local keychain.
func Resolve(ctx context.Context, tag string) (name.Reference, v1.Image, error) {
	ref, err := name.ParseReference(tag)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing image reference %q: %w", tag, err)
	}

	img, err := remote.Image(ref,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithPlatform(defaultPlatform),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching image %s: %w", ref.Name(), err)
	}
	return ref, img, nil
}

// Digest returns the manifest digest of tag, as a full sha256:... string.
func Digest(ctx context.Context, tag string) (string, error) {
	_, img, err := Resolve(ctx, tag)
	if err != nil {
		return "", err
	}
	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("computing image digest: %w", err)
	}
	return digest.String(), nil
}

// Inspect builds a docker-inspect shaped summary of the remote image tag.
func Inspect(ctx context.Context, tag string) (*ImageSummary, error) {
	log := clog.FromContext(ctx)

	ref, img, err := Resolve(ctx, tag)
	if err != nil {
		return nil, err
	}

	manifest, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("reading image manifest: %w", err)
	}
	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("reading image config: %w", err)
	}
	digest, err := img.Digest()
	if err != nil {
		return nil, fmt.Errorf("computing image digest: %w", err)
	}

	repo := ref.Context().RepositoryStr()
	log.Debug("resolved image", "repo", repo, "digest", digest.String())

	layers := make([]string, 0, len(cfg.RootFS.DiffIDs))
	for _, id := range cfg.RootFS.DiffIDs {
		layers = append(layers, id.String())
	}

	return &ImageSummary{
		ID:            manifest.Config.Digest.String(),
		RepoTags:      []string{repo + ":" + ref.Identifier()},
		RepoDigests:   []string{repo + "@" + digest.String()},
		Created:       cfg.Created.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		DockerVersion: cfg.DockerVersion,
		Author:        cfg.Author,
		Config:        cfg.Config,
		Architecture:  cfg.Architecture,
		Os:            cfg.OS,
		GraphDriver:   GraphDriver{Name: "overlayfs"},
		RootFS: RootFS{
			Type:   cfg.RootFS.Type,
			Layers: layers,
		},
		Metadata: Metadata{LastTagTime: "0001-01-01T00:00:00Z"},
	}, nil
}

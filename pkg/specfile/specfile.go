// Package specfile parses the YAML workload documents libra accepts from
// the CLI, the manifest directory (MWR), and the control plane (NA),
// rejecting unknown fields so a typo in a spec fails loudly instead of
// silently falling back to a zero value.
package specfile

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/types"
)

// Document is the envelope every spec file carries: a kind discriminator
// plus the kind-specific body.
type Document struct {
	Kind      types.Kind         `yaml:"kind"`
	Container *types.ContainerSpec `yaml:"container,omitempty"`
	Pod       *types.PodSpec       `yaml:"pod,omitempty"`
	Compose   *types.ComposeSpec   `yaml:"compose,omitempty"`
}

// Decode parses data as a Document, rejecting unknown top-level and nested
// fields via yaml.v3's KnownFields, then validates kind-specific
// invariants.
func Decode(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrSpecInvalid, "decode spec", err)
	}

	if err := validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func validate(doc *Document) error {
	switch doc.Kind {
	case types.KindContainer:
		if doc.Container == nil || doc.Container.Name == "" {
			return apierrors.Wrap(apierrors.ErrSpecInvalid, "container spec missing name", nil)
		}
	case types.KindPod:
		if doc.Pod == nil || doc.Pod.Name == "" {
			return apierrors.Wrap(apierrors.ErrSpecInvalid, "pod spec missing name", nil)
		}
		if len(doc.Pod.Containers) == 0 {
			return apierrors.Wrap(apierrors.ErrSpecInvalid, "pod spec has no containers", nil)
		}
		seen := make(map[string]bool, len(doc.Pod.Containers))
		for _, c := range doc.Pod.Containers {
			if c.Name == "" {
				return apierrors.Wrap(apierrors.ErrSpecInvalid, "pod container missing name", nil)
			}
			if seen[c.Name] {
				return apierrors.Wrap(apierrors.ErrSpecInvalid, fmt.Sprintf("duplicate container name %q in pod", c.Name), nil)
			}
			seen[c.Name] = true
		}
	case types.KindCompose:
		if doc.Compose == nil || len(doc.Compose.Services) == 0 {
			return apierrors.Wrap(apierrors.ErrSpecInvalid, "compose spec has no services", nil)
		}
	default:
		return apierrors.Wrap(apierrors.ErrSpecInvalid, fmt.Sprintf("unknown kind %q", doc.Kind), nil)
	}
	return nil
}

// Hash returns a stable content hash of data, used as PodRecord/
// ContainerRuntimeRecord.SpecHash so the reconciler can detect a changed
// spec without a deep structural diff.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package provider

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidName is returned by Parse for names this service did not create.
var ErrInvalidName = errors.New("provider: name does not match {env}_{id}_{stamp}")

// Ref identifies the live resource an external resource was created for.
type Ref struct {
	Env   string
	ID    uuid.UUID
	Stamp string
}

// Name is the shared name of every external resource of one live session.
func Name(env string, id uuid.UUID, stamp string) string {
	return env + "_" + id.String() + "_" + stamp
}

// Name rebuilds the external name of r.
func (r Ref) Name() string { return Name(r.Env, r.ID, r.Stamp) }

// Parse reverses Name. The environment may itself contain underscores.
func Parse(name string) (Ref, error) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 || i == len(name)-1 {
		return Ref{}, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	stamp := name[i+1:]
	rest := name[:i]
	j := strings.LastIndexByte(rest, '_')
	if j <= 0 {
		return Ref{}, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	id, err := uuid.Parse(rest[j+1:])
	if err != nil {
		return Ref{}, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return Ref{Env: rest[:j], ID: id, Stamp: stamp}, nil
}

// HarvestJobID is the deterministic job id of the index-th (1-based) slice.
func HarvestJobID(id uuid.UUID, stamp string, index int) string {
	return fmt.Sprintf("%s_%s_%d", id, stamp, index)
}

// ParseHarvestJobID reverses HarvestJobID.
func ParseHarvestJobID(jobID string) (uuid.UUID, string, int, error) {
	parts := strings.Split(jobID, "_")
	if len(parts) != 3 {
		return uuid.Nil, "", 0, fmt.Errorf("harvest job id %q: %w", jobID, ErrInvalidName)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, "", 0, fmt.Errorf("harvest job id %q: %w", jobID, ErrInvalidName)
	}
	index, err := strconv.Atoi(parts[2])
	if err != nil || index < 1 {
		return uuid.Nil, "", 0, fmt.Errorf("harvest job id %q: %w", jobID, ErrInvalidName)
	}
	return id, parts[1], index, nil
}

// HarvestDirectory is where the index-th slice lands under the resource prefix.
func HarvestDirectory(index int) string {
	return fmt.Sprintf("slice_%d", index)
}

// ManifestKey is the destination manifest of the index-th slice.
func ManifestKey(id uuid.UUID, stamp string, index int) string {
	return fmt.Sprintf("%s/cmaf/%s/%s_%d.manifest", id, HarvestDirectory(index), stamp, index)
}

// ObjectPrefix is the storage prefix owning every object of a resource.
func ObjectPrefix(id uuid.UUID) string {
	return id.String() + "/"
}

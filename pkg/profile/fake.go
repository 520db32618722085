package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/grovehq/grove/pkg/schema"
	"github.com/grovehq/grove/pkg/types"
)

// FakeTypeName is the versioned name of the built-in in-memory type.
const FakeTypeName = "fake-1.0"

// FakeSchema is the spec schema of the fake type.
var FakeSchema = map[string]*schema.Schema{
	"flavor": {
		Type:        schema.String,
		Description: "Resource flavor of the simulated node",
		Required:    true,
	},
	"image": {
		Type:        schema.String,
		Description: "Image the simulated node boots from",
		Default:     "cirros",
		Updatable:   true,
	},
	"healthy": {
		Type:        schema.Boolean,
		Description: "Whether simulated checks report healthy",
		Default:     true,
	},
}

// FakeType returns the built-in in-memory profile type. It backs local
// development and the engine test suites; production deployments register
// real driver types instead. Every driver built from one FakeType shares
// a single resource table, matching a real backend observed through
// multiple driver handles.
func FakeType() *Type {
	backend := &fakeBackend{resources: make(map[string]bool)}
	return &Type{
		Name:    FakeTypeName,
		Version: "1.0",
		Schema:  FakeSchema,
		NewDriver: func(spec *schema.Spec) (Driver, error) {
			return &FakeDriver{spec: spec, backend: backend}, nil
		},
	}
}

// fakeBackend is the shared in-memory resource table behind one fake type.
type fakeBackend struct {
	mu        sync.Mutex
	resources map[string]bool
}

func (b *fakeBackend) add() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := uuid.New().String()
	b.resources[id] = true
	return id
}

func (b *fakeBackend) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.resources, id)
}

func (b *fakeBackend) has(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resources[id]
}

// FakeDriver simulates a backend against the shared resource table.
type FakeDriver struct {
	spec    *schema.Spec
	backend *fakeBackend

	// FailCreate and FailCheck force errors for failure-path tests.
	FailCreate bool
	FailCheck  bool
}

func (d *FakeDriver) Create(ctx context.Context, node *types.Node) (string, error) {
	if d.FailCreate {
		return "", fmt.Errorf("fake driver: create refused for node %s", node.Name)
	}
	return d.backend.add(), nil
}

func (d *FakeDriver) Delete(ctx context.Context, node *types.Node) error {
	d.backend.remove(node.PhysicalID)
	return nil
}

func (d *FakeDriver) Update(ctx context.Context, node *types.Node, newSpec *schema.Spec) error {
	return nil
}

func (d *FakeDriver) Check(ctx context.Context, node *types.Node) (bool, error) {
	if d.FailCheck {
		return false, fmt.Errorf("fake driver: check failed for node %s", node.Name)
	}
	if node.PhysicalID == "" || !d.backend.has(node.PhysicalID) {
		return false, nil
	}
	return d.spec.GetBool("healthy"), nil
}

func (d *FakeDriver) Recover(ctx context.Context, node *types.Node, params map[string]interface{}) (string, error) {
	d.backend.remove(node.PhysicalID)
	return d.backend.add(), nil
}

func (d *FakeDriver) Join(ctx context.Context, node *types.Node, clusterID string) error {
	return nil
}

func (d *FakeDriver) Leave(ctx context.Context, node *types.Node) error {
	return nil
}

func (d *FakeDriver) Details(ctx context.Context, node *types.Node) (map[string]interface{}, error) {
	return map[string]interface{}{
		"flavor": d.spec.GetString("flavor"),
		"image":  d.spec.GetString("image"),
	}, nil
}

package manager

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/internal/runtime"
	"github.com/gojupyter/kernelclient/kernel"
	"github.com/gojupyter/kernelclient/restclient"
)

// KernelManagerREST is the subset of *restclient.Client KernelManager
// depends on.
type KernelManagerREST interface {
	ListKernels(ctx context.Context) ([]restclient.KernelModel, error)
	StartKernel(ctx context.Context, name string) (restclient.KernelModel, error)
	GetKernelSpecs(ctx context.Context) (restclient.SpecsBundle, error)
}

// KernelManager is the Manager Layer instance for running kernels: it
// polls ListKernels/GetKernelSpecs and can start or attach to a kernel
// engine without a subsequent poll creating a duplicate cache entry, since
// internal/runtime already de-duplicates live engines by server kernel id.
type KernelManager struct {
	*Manager
	rest       KernelManagerREST
	engineCfg  func(id, name string) kernel.Config
}

// NewKernelManager builds a KernelManager. engineCfg builds the
// kernel.Config (WSURL/token/dialer/etc.) for a given kernel id/name —
// supplied by the caller (normally jupyter.Client) since KernelManager
// itself doesn't know the WebSocket URL scheme.
func NewKernelManager(rest KernelManagerREST, engineCfg func(id, name string) kernel.Config) *KernelManager {
	km := &KernelManager{rest: rest, engineCfg: engineCfg}
	km.Manager = New(km.fetchRunning, km.fetchSpecs)
	return km
}

func (km *KernelManager) fetchRunning(ctx context.Context) (map[string]interface{}, error) {
	models, err := km.rest.ListKernels(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(models))
	for _, m := range models {
		out[m.ID] = m
	}
	return out, nil
}

func (km *KernelManager) fetchSpecs(ctx context.Context) (map[string]interface{}, error) {
	bundle, err := km.rest.GetKernelSpecs(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(bundle.KernelSpecs))
	for name, spec := range bundle.KernelSpecs {
		out[name] = spec
	}
	return out, nil
}

// StartNew starts a brand-new kernel of the given spec name and attaches a
// Kernel Channel Engine to it.
func (km *KernelManager) StartNew(ctx context.Context, specName string) (*kernel.Engine, error) {
	model, err := km.rest.StartKernel(ctx, specName)
	if err != nil {
		return nil, errors.WithMessage(err, "manager: starting kernel")
	}
	return kernel.NewEngine(ctx, km.engineCfg(model.ID, model.Name))
}

// ConnectTo attaches to an already-running kernel id. If a live engine is
// already registered under that id (internal/runtime), it is returned
// as-is rather than opening a second WebSocket to the same kernel.
func (km *KernelManager) ConnectTo(ctx context.Context, id, name string) (*kernel.Engine, error) {
	if eng, ok := runtime.Lookup(id); ok {
		if e, ok := eng.(*kernel.Engine); ok {
			return e, nil
		}
	}
	return kernel.NewEngine(ctx, km.engineCfg(id, name))
}

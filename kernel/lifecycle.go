package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gojupyter/kernelclient/jkerrors"
	"github.com/gojupyter/kernelclient/restclient"
)

// Interrupt asks the Jupyter server to SIGINT the kernel process. It does
// not change the engine's local status; a status-driven transition arrives
// separately over iopub once the kernel actually reacts.
func (e *Engine) Interrupt(ctx context.Context) error {
	if e.Status() == StatusDead {
		return jkerrors.ErrKernelDead
	}
	return e.rest.Interrupt(ctx, e.id)
}

// Restart asks the Jupyter server to restart the kernel process in place
// (same kernel id, new process). All outstanding Futures are rejected and
// Comms close locally first, since none of them can ever be answered by the
// process being replaced; status is set to Restarting before the REST call
// is made so observers see the transition immediately rather than only
// after the server round-trip completes.
func (e *Engine) Restart(ctx context.Context) error {
	if e.Status() == StatusDead {
		return jkerrors.ErrKernelDead
	}
	e.do(func() {
		e.futures.TerminateAll(jkerrors.ErrKernelTerminated)
		e.comms.CloseAll()
		e.setStatus(StatusRestarting)
	})
	if _, err := e.rest.Restart(ctx, e.id); err != nil {
		return errors.WithMessage(err, "kernel: restart")
	}
	return nil
}

// Shutdown asks the Jupyter server to delete the kernel, then disposes the
// engine locally. Idempotent: a second call observes StatusDead and returns
// nil without making another REST request. shutdownOnce also covers the
// race between two concurrent first calls — the status check alone isn't
// enough, since both can observe a not-yet-Dead status before either sets
// it; shutdownOnce.Do ensures only one of them ever issues the DeleteKernel
// call, and blocks the other until it completes.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.Status() == StatusDead {
		return nil
	}
	var err error
	e.shutdownOnce.Do(func() {
		delErr := e.rest.DeleteKernel(ctx, e.id)
		e.Dispose()
		if delErr != nil {
			err = errors.WithMessage(delErr, "kernel: shutdown")
		}
	})
	return err
}

// GetSpec returns the kernel spec this engine's kernel type was started
// from, fetching and caching it on first call (the kernel spec lookup
// caching SPEC_FULL.md's expansion adds on top of spec.md's §6 table).
func (e *Engine) GetSpec(ctx context.Context) (restclient.KernelSpec, error) {
	e.mu.Lock()
	if e.spec != nil {
		spec := *e.spec
		e.mu.Unlock()
		return spec, nil
	}
	e.mu.Unlock()

	bundle, err := e.rest.GetKernelSpecs(ctx)
	if err != nil {
		return restclient.KernelSpec{}, errors.WithMessage(err, "kernel: fetching specs")
	}
	spec, ok := bundle.KernelSpecs[e.name]
	if !ok {
		return restclient.KernelSpec{}, errors.Errorf("kernel: no spec named %q in specs bundle", e.name)
	}

	e.mu.Lock()
	e.spec = &spec
	e.mu.Unlock()

	return spec, nil
}

package restclient

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gojupyter/kernelclient/jkerrors"
)

// GetKernelSpecs implements GET api/kernelspecs.
func (c *Client) GetKernelSpecs(ctx context.Context) (SpecsBundle, error) {
	var bundle SpecsBundle
	if err := c.do(ctx, http.MethodGet, "api/kernelspecs", nil, &bundle, http.StatusOK); err != nil {
		return SpecsBundle{}, err
	}
	if err := bundle.Validate(); err != nil {
		return SpecsBundle{}, &jkerrors.MalformedModelError{Context: "api/kernelspecs", Err: err}
	}
	return bundle, nil
}

// ListKernels implements GET api/kernels.
func (c *Client) ListKernels(ctx context.Context) ([]KernelModel, error) {
	var kernels []KernelModel
	if err := c.do(ctx, http.MethodGet, "api/kernels", nil, &kernels, http.StatusOK); err != nil {
		return nil, err
	}
	return kernels, nil
}

// StartKernel implements POST api/kernels.
func (c *Client) StartKernel(ctx context.Context, name string) (KernelModel, error) {
	var model KernelModel
	req := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := c.do(ctx, http.MethodPost, "api/kernels", req, &model, http.StatusCreated); err != nil {
		return KernelModel{}, err
	}
	return model, nil
}

// GetKernel implements GET api/kernels/{id}.
func (c *Client) GetKernel(ctx context.Context, id string) (KernelModel, error) {
	var model KernelModel
	if err := c.do(ctx, http.MethodGet, "api/kernels/"+queryEscape(id), nil, &model, http.StatusOK); err != nil {
		return KernelModel{}, err
	}
	return model, nil
}

// Interrupt implements POST api/kernels/{id}/interrupt.
func (c *Client) Interrupt(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "api/kernels/"+queryEscape(id)+"/interrupt", nil, nil, http.StatusNoContent)
}

// Restart implements POST api/kernels/{id}/restart.
func (c *Client) Restart(ctx context.Context, id string) (KernelModel, error) {
	var model KernelModel
	if err := c.do(ctx, http.MethodPost, "api/kernels/"+queryEscape(id)+"/restart", nil, &model, http.StatusOK); err != nil {
		return KernelModel{}, err
	}
	return model, nil
}

// DeleteKernel implements DELETE api/kernels/{id}.
func (c *Client) DeleteKernel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "api/kernels/"+queryEscape(id), nil, nil, http.StatusNoContent)
}

// ListSessions implements GET api/sessions.
func (c *Client) ListSessions(ctx context.Context) ([]SessionModel, error) {
	var sessions []SessionModel
	if err := c.do(ctx, http.MethodGet, "api/sessions", nil, &sessions, http.StatusOK); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession implements POST api/sessions.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionModel, error) {
	var model SessionModel
	if err := c.do(ctx, http.MethodPost, "api/sessions", req, &model, http.StatusCreated); err != nil {
		return SessionModel{}, err
	}
	return model, nil
}

// GetSession implements GET api/sessions/{id}.
func (c *Client) GetSession(ctx context.Context, id string) (SessionModel, error) {
	var model SessionModel
	if err := c.do(ctx, http.MethodGet, "api/sessions/"+queryEscape(id), nil, &model, http.StatusOK); err != nil {
		return SessionModel{}, err
	}
	return model, nil
}

// PatchSession implements PATCH api/sessions/{id}.
func (c *Client) PatchSession(ctx context.Context, id string, req PatchSessionRequest) (SessionModel, error) {
	var model SessionModel
	if err := c.do(ctx, http.MethodPatch, "api/sessions/"+queryEscape(id), req, &model, http.StatusOK); err != nil {
		return SessionModel{}, err
	}
	return model, nil
}

// DeleteSession implements DELETE api/sessions/{id}. Per spec §6 failure
// semantics: 410 means the kernel was deleted but the session resource was
// not (returned as SessionDeletedKernelKeptError); 404 is treated as
// success (idempotent delete).
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "api/sessions/"+queryEscape(id), nil, nil, http.StatusNoContent)
	if err == nil {
		return nil
	}
	var invalid *jkerrors.InvalidResponseError
	if errors.As(err, &invalid) {
		switch invalid.Status {
		case http.StatusGone:
			return &jkerrors.SessionDeletedKernelKeptError{}
		case http.StatusNotFound:
			klog.Warningf("restclient: DELETE api/sessions/%s returned 404, treating as already deleted", id)
			return nil
		}
	}
	return err
}

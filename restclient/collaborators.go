package restclient

import "context"

// ContentsService is a one-line stub for the file-contents REST service.
// Out of scope per spec §1; exists only so jupyter.Client has somewhere to
// wire a caller-supplied implementation.
type ContentsService interface {
	Get(ctx context.Context, path string) (interface{}, error)
}

// TerminalService is a one-line stub for the terminal REST service. Out of
// scope per spec §1.
type TerminalService interface {
	Create(ctx context.Context) (interface{}, error)
}

// ConfigSectionService is a one-line stub for the configuration-section
// REST service. Out of scope per spec §1.
type ConfigSectionService interface {
	Get(ctx context.Context, section string) (interface{}, error)
}

package kernel

// Typed request/reply content structs for the Kernel Channel Engine's
// convenience wrappers, the same two-layer shape as the teacher's
// kernel/messages.go ComposedMsg (raw map) vs. CompleteReply/InspectReply/
// KernelInfo (typed). wire.Message.Content stays a generic
// map[string]interface{} at the codec boundary; these structs exist only
// at this package's public surface.

// MIMEMap holds one value presented in multiple MIME-typed representations.
type MIMEMap = map[string]interface{}

// KernelInfoReply is the content of a kernel_info_reply.
type KernelInfoReply struct {
	ProtocolVersion       string             `json:"protocol_version"`
	Implementation        string             `json:"implementation"`
	ImplementationVersion string             `json:"implementation_version"`
	LanguageInfo          KernelLanguageInfo `json:"language_info"`
	Banner                string             `json:"banner"`
	HelpLinks             []HelpLink         `json:"help_links,omitempty"`
}

// KernelLanguageInfo describes the language the kernel executes code in.
type KernelLanguageInfo struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	MIMEType          string `json:"mimetype"`
	FileExtension     string `json:"file_extension"`
	PygmentsLexer     string `json:"pygments_lexer,omitempty"`
	CodeMirrorMode    string `json:"codemirror_mode,omitempty"`
	NBConvertExporter string `json:"nbconvert_exporter,omitempty"`
}

// HelpLink is one entry of a kernel_info_reply's help_links.
type HelpLink struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// CompleteRequest is the content of a complete_request.
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

// CompleteReply is the content of a complete_reply.
type CompleteReply struct {
	Status      string   `json:"status"`
	Matches     []string `json:"matches"`
	CursorStart int      `json:"cursor_start"`
	CursorEnd   int      `json:"cursor_end"`
	Metadata    MIMEMap  `json:"metadata"`
}

// InspectRequest is the content of an inspect_request.
type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level"`
}

// InspectReply is the content of an inspect_reply.
type InspectReply struct {
	Status   string  `json:"status"`
	Found    bool    `json:"found"`
	Data     MIMEMap `json:"data"`
	Metadata MIMEMap `json:"metadata"`
}

// HistoryRequest is the content of a history_request.
type HistoryRequest struct {
	Output bool   `json:"output"`
	Raw    bool   `json:"raw"`
	HistAccessType string `json:"hist_access_type"`
	Session int `json:"session,omitempty"`
	Start   int `json:"start,omitempty"`
	Stop    int `json:"stop,omitempty"`
	N       int `json:"n,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Unique  bool   `json:"unique,omitempty"`
}

// HistoryReply is the content of a history_reply.
type HistoryReply struct {
	History [][]interface{} `json:"history"`
}

// IsCompleteRequest is the content of an is_complete_request.
type IsCompleteRequest struct {
	Code string `json:"code"`
}

// IsCompleteReply is the content of an is_complete_reply.
type IsCompleteReply struct {
	Status string `json:"status"`
	Indent string `json:"indent,omitempty"`
}

// CommInfoRequest is the content of a comm_info_request.
type CommInfoRequest struct {
	TargetName string `json:"target_name,omitempty"`
}

// CommInfoReply is the content of a comm_info_reply.
type CommInfoReply struct {
	Comms map[string]struct {
		TargetName string `json:"target_name"`
	} `json:"comms"`
}

// ExecuteRequest is the content of an execute_request, with the defaults
// spec §4.F requires filled in by Execute before send. StoreHistory and
// AllowStdin default to true — a plain bool field can't distinguish
// "caller left this unset" from "caller explicitly chose false", so they
// are pointers; executeDefaults fills a nil pointer with true, and a
// caller who wants false sets it explicitly.
type ExecuteRequest struct {
	Code            string                 `json:"code"`
	Silent          bool                   `json:"silent"`
	StoreHistory    *bool                  `json:"store_history"`
	UserExpressions map[string]interface{} `json:"user_expressions"`
	AllowStdin      *bool                  `json:"allow_stdin"`
	StopOnError     bool                   `json:"stop_on_error"`
}

// ExecuteReply is the content of an execute_reply.
type ExecuteReply struct {
	Status         string                 `json:"status"`
	ExecutionCount int                    `json:"execution_count"`
	Payload        []map[string]interface{} `json:"payload,omitempty"`
	UserExpressions map[string]interface{} `json:"user_expressions,omitempty"`
	ENames         string                 `json:"ename,omitempty"`
	EValue         string                 `json:"evalue,omitempty"`
	Traceback      []string               `json:"traceback,omitempty"`
}

// InputReply is the content of an input_reply, sent fire-and-forget on the
// stdin channel in response to a kernel input_request.
type InputReply struct {
	Value string `json:"value"`
}

func toContent(v interface{}) (map[string]interface{}, error) {
	return structToMap(v)
}

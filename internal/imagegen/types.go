package imagegen

import "context"

// ReferenceImage is one input image steering a generation. Exactly one of
// Data or URL is set: Data carries inline bytes from a submission, URL points
// at an already-stored image.
type ReferenceImage struct {
	Data []byte
	URL  string
}

// Request carries normalized generation parameters.
type Request struct {
	Prompt         string
	NegativePrompt string
	Resolution     string
	AspectRatio    string
	GuidanceScale  float64
	Steps          int
	Seed           *int
	References     []ReferenceImage
}

// Output is the provider's response collapsed into a closed tagged union at
// the client boundary. The raw provider output has no fixed shape (a direct
// URL string, a byte payload, or a handle that must be drained), so the
// ambiguity is isolated here instead of leaking into the worker.
type Output interface {
	isOutput()
}

// BytesOutput carries decoded image bytes, plus an accompanying URL when the
// handle exposed one.
type BytesOutput struct {
	Data []byte
	URL  string
}

// URLOutput carries a direct result URL.
type URLOutput struct {
	Value string
}

// StreamOutput is a drained streaming handle: its yielded items already
// adapted, plus the handle's own url-like accessor when present.
type StreamOutput struct {
	Items []Output
	URL   string
}

func (*BytesOutput) isOutput()  {}
func (*URLOutput) isOutput()    {}
func (*StreamOutput) isOutput() {}

// Result is the canonical resolved artifact. At least one of Bytes or URL is
// set on success.
type Result struct {
	Bytes []byte
	URL   string
}

// Generator produces an image for a request. Implementations must honor the
// context deadline.
type Generator interface {
	Generate(ctx context.Context, req Request) (Output, error)
}

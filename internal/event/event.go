// Package event defines the message types that flow across the export bus.
// Every cross-service interaction in the pipeline is expressed as one of
// these events; services never call each other directly.
package event

import "github.com/BJSummerfield/zendesk-export-v2/internal/zendesk"

// Service names a tracked pipeline service for activity accounting.
type Service string

// Tracked services.
const (
	ServiceFetcher    Service = "fetcher"
	ServiceCategories Service = "categories"
	ServiceFileWriter Service = "filewriter"
)

// Direction indicates whether an ActivityDelta opens or closes a unit of work.
type Direction string

// Supported delta directions.
const (
	DirectionIncrement Direction = "increment"
	DirectionDecrement Direction = "decrement"
)

// FileKind distinguishes text from binary file payloads.
type FileKind string

// Supported file kinds.
const (
	FileMarkdown FileKind = "markdown"
	FileImage    FileKind = "image"
)

// Event is the sealed union of messages carried by the bus.
type Event interface {
	isEvent()
}

// FetchRequest asks the fetcher to retrieve one page of categories. URL is
// either a path relative to the help-center API root (e.g. "categories.json")
// or an absolute pagination cursor returned by a previous page.
type FetchRequest struct {
	URL string
}

// FetchResponse reports the outcome of one fetch. Exactly one of Page and
// Err is set: Page on success, Err with a human-readable message on
// transport or decode failure.
type FetchResponse struct {
	Page *zendesk.CategoryPage
	Err  string
}

// FileRequest asks the file writer to persist content at Path, relative to
// the writer's base directory.
type FileRequest struct {
	Kind FileKind
	Path string
	Data []byte
}

// ActivityDelta brackets one unit of work for the named service. The
// lifecycle monitor folds these into per-service active counts.
type ActivityDelta struct {
	Service   Service
	Direction Direction
}

// Shutdown is the terminal broadcast; every service exits on observing it.
type Shutdown struct{}

func (FetchRequest) isEvent()  {}
func (FetchResponse) isEvent() {}
func (FileRequest) isEvent()   {}
func (ActivityDelta) isEvent() {}
func (Shutdown) isEvent()      {}

// Increment returns a delta opening a unit of work for svc.
func Increment(svc Service) ActivityDelta {
	return ActivityDelta{Service: svc, Direction: DirectionIncrement}
}

// Decrement returns a delta closing a unit of work for svc.
func Decrement(svc Service) ActivityDelta {
	return ActivityDelta{Service: svc, Direction: DirectionDecrement}
}

// Kind returns a stable label for the event's variant, used for logging and
// metrics partitioning.
func Kind(e Event) string {
	switch e.(type) {
	case FetchRequest:
		return "fetch_request"
	case FetchResponse:
		return "fetch_response"
	case FileRequest:
		return "file_request"
	case ActivityDelta:
		return "activity_delta"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

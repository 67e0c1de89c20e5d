package sync

import "fmt"

// RemoteListError is returned when a list page cannot be fetched. It ends
// the run.
type RemoteListError struct {
	ShopID int64
	Page   int
	Err    error
}

func (e *RemoteListError) Error() string {
	return fmt.Sprintf("failed to list orders of shop %d, page %d: %v", e.ShopID, e.Page, e.Err)
}

func (e *RemoteListError) Unwrap() error {
	return e.Err
}

// RemoteFetchError describes a failed detail fetch. The engine logs it and
// imports the summary payload.
type RemoteFetchError struct {
	ShopID int64
	Code   string
	Err    error
}

func (e *RemoteFetchError) Error() string {
	return fmt.Sprintf("failed to fetch order %s of shop %d: %v", e.Code, e.ShopID, e.Err)
}

func (e *RemoteFetchError) Unwrap() error {
	return e.Err
}

package opensky

// AuthError marks a failed client-credentials exchange with the identity
// endpoint. Callers downstream of corroboration treat it as fail-open.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "opensky auth: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// FeedError marks a failed, timed out, or malformed state query. An empty
// result set is not a FeedError.
type FeedError struct {
	Err error
}

func (e *FeedError) Error() string { return "opensky feed: " + e.Err.Error() }
func (e *FeedError) Unwrap() error { return e.Err }

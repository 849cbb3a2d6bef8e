package courier

import (
	"github.com/google/uuid"
)

// PreRequestHook transforms request parameters before dispatch.
//
// Hooks run strictly in the order they were supplied at client
// construction; each hook receives the parameters produced by the previous
// one. A hook error aborts the request immediately — no transport call is
// made — and surfaces to the caller unmodified.
//
// Common uses: injecting authentication headers, correlation IDs, default
// user agents.
type PreRequestHook interface {
	Execute(p Params) (Params, error)
}

// PreRequestHookFunc adapts an ordinary function to a PreRequestHook.
type PreRequestHookFunc func(Params) (Params, error)

// Execute calls f(p).
func (f PreRequestHookFunc) Execute(p Params) (Params, error) {
	return f(p)
}

// decisionKind discriminates post-hook outcomes.
type decisionKind uint8

const (
	decisionContinue decisionKind = iota
	decisionComplete
	decisionNewRequest
)

// Decision is a post-request hook's verdict on the response in hand.
// Construct one with Continue, Complete, or MakeNewRequest.
type Decision struct {
	kind decisionKind
	next Params
}

// Continue passes the unmodified response to the next post-request hook.
func Continue() Decision {
	return Decision{kind: decisionContinue}
}

// Complete short-circuits the remaining post-request hooks; the response in
// hand becomes the final response.
func Complete() Decision {
	return Decision{kind: decisionComplete}
}

// MakeNewRequest triggers one additional transport call with the given
// parameters. The new call deliberately skips the pre-request hook chain, so
// a hook issuing a recovery request (a token refresh, say) cannot trigger
// itself recursively. The new call's response then flows to the next
// post-request hook.
func MakeNewRequest(p Params) Decision {
	return Decision{kind: decisionNewRequest, next: p}
}

// PostRequestHook inspects the last response of a logical request and
// decides how execution proceeds.
//
// Hooks run strictly in the order supplied at client construction, after
// each dispatch. The original parameter is the logical request's
// parameters after pre-hook transformation; it stays the same even after a
// MakeNewRequest re-dispatch. A hook error aborts the remainder of the
// chain and surfaces to the caller unmodified.
type PostRequestHook interface {
	Execute(last *Response, original Params) (Decision, error)
}

// PostRequestHookFunc adapts an ordinary function to a PostRequestHook.
type PostRequestHookFunc func(*Response, Params) (Decision, error)

// Execute calls f(last, original).
func (f PostRequestHookFunc) Execute(last *Response, original Params) (Decision, error) {
	return f(last, original)
}

// Ready-made hooks.

// BearerAuthHook returns a pre-request hook that sets a Bearer token on the
// Authorization header.
func BearerAuthHook(token string) PreRequestHook {
	return PreRequestHookFunc(func(p Params) (Params, error) {
		return p.WithHeader("Authorization", "Bearer "+token), nil
	})
}

// BearerAuthFuncHook returns a pre-request hook that sets a Bearer token
// obtained from tokenFunc on every request. Useful for refreshable tokens.
func BearerAuthFuncHook(tokenFunc func() (string, error)) PreRequestHook {
	return PreRequestHookFunc(func(p Params) (Params, error) {
		token, err := tokenFunc()
		if err != nil {
			return Params{}, err
		}
		return p.WithHeader("Authorization", "Bearer "+token), nil
	})
}

// APIKeyHook returns a pre-request hook that sets an API key header.
func APIKeyHook(header, key string) PreRequestHook {
	return PreRequestHookFunc(func(p Params) (Params, error) {
		return p.WithHeader(header, key), nil
	})
}

// UserAgentHook returns a pre-request hook that sets the User-Agent header.
func UserAgentHook(userAgent string) PreRequestHook {
	return PreRequestHookFunc(func(p Params) (Params, error) {
		return p.WithHeader("User-Agent", userAgent), nil
	})
}

// CorrelationIDHook returns a pre-request hook that sets a fresh UUID on the
// given header for every logical request.
func CorrelationIDHook(header string) PreRequestHook {
	return PreRequestHookFunc(func(p Params) (Params, error) {
		return p.WithHeader(header, uuid.NewString()), nil
	})
}

// RefreshOn401Hook returns a post-request hook that, on a 401 response,
// calls refresh with the original parameters and re-dispatches whatever it
// returns. Because re-dispatch skips pre-request hooks, refresh must
// produce fully authorized parameters itself. Any other status continues
// down the chain.
func RefreshOn401Hook(refresh func(original Params) (Params, error)) PostRequestHook {
	return PostRequestHookFunc(func(last *Response, original Params) (Decision, error) {
		if last.StatusCode != 401 {
			return Continue(), nil
		}
		next, err := refresh(original)
		if err != nil {
			return Decision{}, err
		}
		return MakeNewRequest(next), nil
	})
}

package pagination

import "context"

type paramsKey struct{}

// WithParams attaches parsed paging parameters to the context so repository
// code can pick up the request's page size without replumbing signatures.
func WithParams(ctx context.Context, params Params) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, paramsKey{}, params)
}

// FromContext reports the paging parameters attached via WithParams.
func FromContext(ctx context.Context) (Params, bool) {
	if ctx == nil {
		return Params{}, false
	}
	params, ok := ctx.Value(paramsKey{}).(Params)
	return params, ok
}

// FromContextOrDefault returns the attached parameters, falling back to the
// default page size when the context carries none.
func FromContextOrDefault(ctx context.Context) Params {
	params, ok := FromContext(ctx)
	if !ok || params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	return params
}

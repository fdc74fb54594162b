package swagger

// Option configures Register.
type Option func(*options)

type options struct {
	redocJS []byte
}

// WithRedocBundle serves js as the ReDoc bundle so the docs page works
// without reaching the CDN.
func WithRedocBundle(js []byte) Option {
	return func(o *options) {
		o.redocJS = js
	}
}

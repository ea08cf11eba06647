package feedback

import (
	"github.com/pion/interceptor"
)

// Handler receives parsed reports.
type Handler func(Report)

// InterceptorFactory builds interceptors that parse incoming RTCP and pass
// reports to a handler. It plugs into any pion interceptor registry.
type InterceptorFactory struct {
	handler   Handler
	onInvalid func(error)
}

// NewInterceptorFactory creates a factory delivering reports to handler.
// Packets that fail to parse go to onInvalid when it is not nil; they are
// still passed on unchanged.
func NewInterceptorFactory(handler Handler, onInvalid func(error)) *InterceptorFactory {
	return &InterceptorFactory{handler: handler, onInvalid: onInvalid}
}

// NewInterceptor implements interceptor.Factory.
func (f *InterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &reportInterceptor{factory: f}, nil
}

type reportInterceptor struct {
	interceptor.NoOp
	factory *InterceptorFactory
}

func (r *reportInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return &reportReader{reader: reader, factory: r.factory}
}

type reportReader struct {
	reader  interceptor.RTCPReader
	factory *InterceptorFactory
}

func (r *reportReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, attr, err := r.reader.Read(b, a)
	if err != nil {
		return n, attr, err
	}

	reports, parseErr := Parse(b[:n])
	if parseErr != nil {
		if r.factory.onInvalid != nil {
			r.factory.onInvalid(parseErr)
		}
		return n, attr, nil
	}
	for _, rep := range reports {
		r.factory.handler(rep)
	}
	return n, attr, nil
}

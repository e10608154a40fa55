package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct{ calls []string }

func (r *recorder) component(name string, startErr error) Component {
	return Component{
		Name: name,
		Start: func(context.Context) error {
			r.calls = append(r.calls, "start "+name)
			return startErr
		},
		Stop: func(context.Context) error {
			r.calls = append(r.calls, "stop "+name)
			return nil
		},
	}
}

func (r *recorder) closer(name string) Closer {
	return Closer{Name: name, Close: func() error {
		r.calls = append(r.calls, "close "+name)
		return nil
	}}
}

func TestAppStopsInReverseOrderOnCancel(t *testing.T) {
	r := &recorder{}
	app := New(nil,
		WithComponents(r.component("http", nil), r.component("sweep", nil), r.component("consumer", nil)),
		WithClosers(r.closer("publisher")),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, app.Run(ctx))
	assert.Equal(t, []string{
		"start http", "start sweep", "start consumer",
		"stop consumer", "stop sweep", "stop http",
		"close publisher",
	}, r.calls)
}

func TestAppUnwindsOnStartFailure(t *testing.T) {
	r := &recorder{}
	boom := errors.New("no brokers")
	app := New(nil,
		WithComponents(r.component("http", nil), r.component("consumer", boom), r.component("never", nil)),
		WithClosers(r.closer("publisher")),
	)

	err := app.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start http", "start consumer", "stop http", "close publisher"}, r.calls)
}

func TestAppShutsDownOnFatalError(t *testing.T) {
	r := &recorder{}
	fatal := make(chan error, 1)
	app := New(nil, WithComponents(r.component("http", nil)), WithFatal(fatal), WithShutdownTimeout(time.Second))
	listen := errors.New("address in use")
	fatal <- listen

	err := app.Run(context.Background())

	assert.ErrorIs(t, err, listen)
	assert.Equal(t, []string{"start http", "stop http"}, r.calls)
}

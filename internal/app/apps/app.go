package apps

import "context"

// App is one runnable command-line application.
type App interface {
	Run(ctx context.Context, args []string) error
}

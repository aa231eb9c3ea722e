// Package tools holds the closed action vocabulary offered to the model, its
// catalog and the executor mapping actions onto a sandbox session.
package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"deskpilot/pkg/llm"
	"deskpilot/pkg/sandbox"
	"deskpilot/pkg/utils"

	"go.uber.org/zap"
)

// Delays are the settle times applied around sandbox operations.
type Delays struct {
	// Screenshot is waited before every capture so the screen can redraw.
	Screenshot time.Duration
	// Launch is waited after starting an application.
	Launch time.Duration
}

// Executor runs actions against one sandbox session, strictly one at a
// time in the order given.
type Executor struct {
	session sandbox.Session
	delays  Delays
	logger  *zap.Logger
}

func NewExecutor(session sandbox.Session, delays Delays, logger *zap.Logger) *Executor {
	return &Executor{session: session, delays: delays, logger: logger.Named("executor")}
}

// Execute runs the action requested by call.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) Result {
	return e.Dispatch(ctx, call.Name, call.Arguments)
}

// Dispatch parses and runs one action. It never fails: unknown names,
// invalid arguments, sandbox errors and panics all become error results.
func (e *Executor) Dispatch(ctx context.Context, name, rawArgs string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Action panicked", zap.String("action", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res = Result{Error: fmt.Sprintf("%s failed: internal error", name)}
		}
	}()

	action, err := ParseAction(name, rawArgs)
	if err != nil {
		e.logger.Warn("Rejected action", zap.String("action", name), zap.String("args", rawArgs), zap.Error(err))
		return Failure(err)
	}

	start := time.Now()
	res = e.Run(ctx, action)
	e.logger.Info("Action executed",
		zap.String("action", name),
		zap.Bool("success", res.Success),
		zap.String("error", res.Error),
		zap.Duration("elapsed", time.Since(start)))
	return res
}

// Run performs an already validated action.
func (e *Executor) Run(ctx context.Context, action Action) Result {
	var err error
	switch a := action.(type) {
	case *CaptureScreen:
		data, mediaType, err := e.Screenshot(ctx)
		if err != nil {
			return failed(a, err)
		}
		res := Success(fmt.Sprintf("Captured %d byte %s screenshot", len(data), mediaType))
		res.Image, res.MediaType = data, mediaType
		return res

	case *Click:
		x, y := a.Point()
		err = e.session.Click(ctx, x, y, a.ButtonOrDefault(), a.DoubleClick)
		if err == nil {
			verb := "Clicked"
			if a.DoubleClick {
				verb = "Double-clicked"
			}
			return Success(fmt.Sprintf("%s %s at (%d, %d)", verb, a.ButtonOrDefault(), x, y))
		}

	case *TypeText:
		err = e.session.SendText(ctx, *a.Text)
		if err == nil {
			return Success(fmt.Sprintf("Typed %d characters", len([]rune(*a.Text))))
		}

	case *PressKey:
		err = e.session.SendKey(ctx, a.Key)
		if err == nil {
			return Success("Pressed " + a.Key)
		}

	case *Scroll:
		for i := 0; i < a.Times() && err == nil; i++ {
			err = e.session.SendKey(ctx, a.Key())
		}
		if err == nil {
			return Success(fmt.Sprintf("Scrolled %s %d pages", a.Direction, a.Times()))
		}

	case *LaunchApplication:
		err = e.session.Launch(ctx, a.App)
		if err == nil {
			err = sleep(ctx, e.delays.Launch)
		}
		if err == nil {
			return Success("Launched " + a.App)
		}

	case *Wait:
		d := time.Duration(*a.Duration * float64(time.Millisecond))
		err = sleep(ctx, d)
		if err == nil {
			return Success(fmt.Sprintf("Waited %s", d))
		}

	default:
		return Failure(&UnknownActionError{Name: action.Name()})
	}
	return failed(action, err)
}

func failed(action Action, err error) Result {
	return Failure(fmt.Errorf("%s failed: %w", action.Name(), err))
}

// Screenshot waits the screenshot settle delay and captures the screen.
func (e *Executor) Screenshot(ctx context.Context) ([]byte, string, error) {
	if err := sleep(ctx, e.delays.Screenshot); err != nil {
		return nil, "", err
	}
	data, err := e.session.CaptureScreen(ctx)
	if err != nil {
		return nil, "", err
	}
	return data, utils.ImageMediaType(data), nil
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

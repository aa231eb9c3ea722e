package tools

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"deskpilot/pkg/sandbox"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Action names understood by the executor.
const (
	ActionCaptureScreen     = "capture-screen"
	ActionClick             = "click"
	ActionTypeText          = "type-text"
	ActionPressKey          = "press-key"
	ActionScroll            = "scroll"
	ActionLaunchApplication = "launch-application"
	ActionWait              = "wait"
)

const (
	DefaultScrollAmount = 3
	MaxScrollAmount     = 50
	// MaxWait bounds the wait action, in milliseconds.
	MaxWait = 60_000
	// MaxCoordinate is the largest pixel coordinate X11 can address.
	MaxCoordinate = 32767
)

// Action is a validated action request. The concrete type identifies the
// action; each carries only its own parameters.
type Action interface {
	Name() string
	Validate() error
}

// CaptureScreen takes no parameters.
type CaptureScreen struct{}

type Click struct {
	X           *float64       `json:"x" jsonschema:"minimum=0,maximum=32767" jsonschema_description:"Horizontal pixel coordinate from the left edge of the screenshot."`
	Y           *float64       `json:"y" jsonschema:"minimum=0,maximum=32767" jsonschema_description:"Vertical pixel coordinate from the top edge of the screenshot."`
	Button      sandbox.Button `json:"button,omitempty" jsonschema:"enum=left,enum=right,enum=middle,default=left" jsonschema_description:"Mouse button to press."`
	DoubleClick bool           `json:"double_click,omitempty" jsonschema_description:"Click twice in quick succession."`
}

type TypeText struct {
	Text *string `json:"text" jsonschema_description:"Literal text to type into the focused element."`
}

type PressKey struct {
	Key string `json:"key" jsonschema_description:"X keysym name such as Return, Tab, Escape, BackSpace or Page_Down."`
}

type Scroll struct {
	Direction string `json:"direction" jsonschema:"enum=up,enum=down" jsonschema_description:"Scroll direction."`
	Amount    *int   `json:"amount,omitempty" jsonschema:"minimum=1,maximum=50,default=3" jsonschema_description:"Number of pages to scroll."`
}

type LaunchApplication struct {
	App string `json:"app" jsonschema_description:"Application identifier such as firefox or a terminal command."`
}

type Wait struct {
	Duration *float64 `json:"duration" jsonschema:"minimum=0,maximum=60000" jsonschema_description:"Time to wait in milliseconds."`
}

func (*CaptureScreen) Name() string     { return ActionCaptureScreen }
func (*Click) Name() string             { return ActionClick }
func (*TypeText) Name() string          { return ActionTypeText }
func (*PressKey) Name() string          { return ActionPressKey }
func (*Scroll) Name() string            { return ActionScroll }
func (*LaunchApplication) Name() string { return ActionLaunchApplication }
func (*Wait) Name() string              { return ActionWait }

func (*CaptureScreen) Validate() error { return nil }

func (a *Click) Validate() error {
	errs := []error{coordinate("x", a.X), coordinate("y", a.Y)}
	switch a.Button {
	case "", sandbox.ButtonLeft, sandbox.ButtonRight, sandbox.ButtonMiddle:
	default:
		errs = append(errs, fmt.Errorf("unknown button %q", a.Button))
	}
	return errors.Join(errs...)
}

func coordinate(name string, v *float64) error {
	switch {
	case v == nil:
		return fmt.Errorf("%s is required", name)
	case math.IsNaN(*v) || *v < 0:
		return fmt.Errorf("%s must be non-negative, got %v", name, *v)
	case *v > MaxCoordinate:
		return fmt.Errorf("%s must be at most %d, got %v", name, MaxCoordinate, *v)
	}
	return nil
}

// Point returns the click position rounded to whole pixels.
func (a *Click) Point() (int, int) {
	return int(math.Round(*a.X)), int(math.Round(*a.Y))
}

func (a *Click) ButtonOrDefault() sandbox.Button {
	if a.Button == "" {
		return sandbox.ButtonLeft
	}
	return a.Button
}

func (a *TypeText) Validate() error {
	if a.Text == nil {
		return errors.New("text is required")
	}
	return nil
}

func (a *PressKey) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return errors.New("key is required")
	}
	return nil
}

func (a *Scroll) Validate() error {
	var errs []error
	switch a.Direction {
	case "up", "down":
	case "":
		errs = append(errs, errors.New("direction is required"))
	default:
		errs = append(errs, fmt.Errorf("direction must be up or down, got %q", a.Direction))
	}
	if a.Amount != nil && (*a.Amount < 1 || *a.Amount > MaxScrollAmount) {
		errs = append(errs, fmt.Errorf("amount must be between 1 and %d, got %d", MaxScrollAmount, *a.Amount))
	}
	return errors.Join(errs...)
}

// Key returns the page key repeated by the scroll.
func (a *Scroll) Key() string {
	if a.Direction == "up" {
		return sandbox.KeyPageUp
	}
	return sandbox.KeyPageDown
}

func (a *Scroll) Times() int {
	if a.Amount == nil {
		return DefaultScrollAmount
	}
	return *a.Amount
}

func (a *LaunchApplication) Validate() error {
	if strings.TrimSpace(a.App) == "" {
		return errors.New("app is required")
	}
	return nil
}

func (a *Wait) Validate() error {
	if a.Duration == nil {
		return errors.New("duration is required")
	}
	if *a.Duration < 0 || *a.Duration > MaxWait || math.IsNaN(*a.Duration) {
		return fmt.Errorf("duration must be between 0 and %d ms, got %v", MaxWait, *a.Duration)
	}
	return nil
}

//----------------------------------------------------------------
// Definitions
//----------------------------------------------------------------

type definition struct {
	name        string
	description string
	params      func() Action
}

// definitions is the closed vocabulary in catalog order.
var definitions = []definition{
	{ActionCaptureScreen, "Capture the current screen. Use it to check the result of earlier actions.", func() Action { return &CaptureScreen{} }},
	{ActionClick, "Move the pointer to a screen coordinate and click.", func() Action { return &Click{} }},
	{ActionTypeText, "Type literal text at the current keyboard focus.", func() Action { return &TypeText{} }},
	{ActionPressKey, "Press and release one named key.", func() Action { return &PressKey{} }},
	{ActionScroll, "Scroll the focused window by whole pages.", func() Action { return &Scroll{} }},
	{ActionLaunchApplication, "Start an application and wait for its window to appear.", func() Action { return &LaunchApplication{} }},
	{ActionWait, "Pause before the next action.", func() Action { return &Wait{} }},
}

func lookup(name string) (definition, bool) {
	for _, d := range definitions {
		if d.name == name {
			return d, true
		}
	}
	return definition{}, false
}

// Names lists the action vocabulary in catalog order.
func Names() []string {
	names := make([]string, len(definitions))
	for i, d := range definitions {
		names[i] = d.name
	}
	return names
}

// UnknownActionError is returned for a name outside the vocabulary.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return "Unknown tool: " + e.Name
}

// InvalidArgumentsError wraps a decode or validation failure.
type InvalidArgumentsError struct {
	Action string
	Err    error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Action, e.Err)
}

func (e *InvalidArgumentsError) Unwrap() error { return e.Err }

// ParseAction decodes rawArgs, a JSON object, into the parameters of the
// named action and validates them. Empty rawArgs means no arguments.
func ParseAction(name, rawArgs string) (Action, error) {
	def, ok := lookup(name)
	if !ok {
		return nil, &UnknownActionError{Name: name}
	}

	action := def.params()
	if raw := strings.TrimSpace(rawArgs); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), action); err != nil {
			return nil, &InvalidArgumentsError{Action: name, Err: err}
		}
	}
	if err := action.Validate(); err != nil {
		return nil, &InvalidArgumentsError{Action: name, Err: err}
	}
	return action, nil
}

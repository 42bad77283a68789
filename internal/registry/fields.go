package registry

import (
	"fmt"
	"strconv"
)

// EditKind says how the options editor edits a field.
type EditKind int

const (
	EditString EditKind = iota
	EditToggle
	EditChoice
)

// Field describes one editable exchange option.
type Field struct {
	Name    string
	Kind    EditKind
	Choices []string
	Get     func(*Exchange) string
	Set     func(*Exchange, string) error
}

// Fields is the ordered list of options shown in the editor.
var Fields = []Field{
	{
		Name: "exchange_name",
		Kind: EditString,
		Get:  func(e *Exchange) string { return e.Name },
		Set: func(e *Exchange, v string) error {
			if v == "" {
				return fmt.Errorf("exchange_name cannot be empty")
			}
			e.Name = v
			return nil
		},
	},
	{
		Name:    "exchange_type",
		Kind:    EditChoice,
		Choices: kindChoices(),
		Get:     func(e *Exchange) string { return string(e.Kind) },
		Set: func(e *Exchange, v string) error {
			e.Kind = ParseKind(v)
			return nil
		},
	},
	{
		Name: "queue_routing_key",
		Kind: EditString,
		Get:  func(e *Exchange) string { return e.RoutingKey },
		Set:  func(e *Exchange, v string) error { e.RoutingKey = v; return nil },
	},
	{
		Name: "alias",
		Kind: EditString,
		Get:  func(e *Exchange) string { return e.Alias },
		Set:  func(e *Exchange, v string) error { e.Alias = v; return nil },
	},
	{
		Name: "pretty",
		Kind: EditToggle,
		Get:  func(e *Exchange) string { return strconv.FormatBool(e.Pretty) },
		Set: func(e *Exchange, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("pretty: %w", err)
			}
			e.Pretty = b
			return nil
		},
	},
	{
		Name: "log_file",
		Kind: EditString,
		Get:  func(e *Exchange) string { return e.LogFile },
		Set:  func(e *Exchange, v string) error { e.LogFile = v; return nil },
	},
	{
		Name: "publish_file",
		Kind: EditString,
		Get:  func(e *Exchange) string { return e.PublishFile },
		Set:  func(e *Exchange, v string) error { e.PublishFile = v; return nil },
	},
	{
		Name: "proto_type",
		Kind: EditString,
		Get:  func(e *Exchange) string { return e.ProtoType },
		Set:  func(e *Exchange, v string) error { e.ProtoType = v; return nil },
	},
}

func kindChoices() []string {
	out := make([]string, len(Kinds))
	for i, k := range Kinds {
		out[i] = string(k)
	}
	return out
}

// Toggle flips a boolean field.
func (f Field) Toggle(e *Exchange) error {
	if f.Kind != EditToggle {
		return fmt.Errorf("%s is not a toggle", f.Name)
	}
	b, err := strconv.ParseBool(f.Get(e))
	if err != nil {
		return err
	}
	return f.Set(e, strconv.FormatBool(!b))
}

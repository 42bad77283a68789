// Package proto decodes protobuf payloads against a directory of .proto
// descriptors so binary messages can be shown as JSON.
package proto

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/sirupsen/logrus"
)

// Decoder handles dynamic protobuf message decoding
type Decoder struct {
	messageTypes map[string]*desc.MessageDescriptor
	allMessages  []*desc.MessageDescriptor
}

// NewDecoder creates a decoder from a directory of .proto files. Files that
// fail to parse are logged and skipped.
func NewDecoder(protoPath string, log logrus.FieldLogger) (*Decoder, error) {
	var protoFiles []string
	err := filepath.Walk(protoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(path, ".proto") {
			relPath, err := filepath.Rel(protoPath, path)
			if err != nil {
				relPath = path
			}
			protoFiles = append(protoFiles, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk proto path: %w", err)
	}

	if len(protoFiles) == 0 {
		return nil, fmt.Errorf("no .proto files found in %s", protoPath)
	}

	parser := protoparse.Parser{
		ImportPaths:           []string{protoPath},
		IncludeSourceCodeInfo: true,
	}

	var fds []*desc.FileDescriptor
	for _, pf := range protoFiles {
		fd, err := parser.ParseFiles(pf)
		if err != nil {
			log.WithError(err).WithField("path", pf).Warn("Skipping proto file")
			continue
		}
		fds = append(fds, fd...)
	}

	d := &Decoder{messageTypes: make(map[string]*desc.MessageDescriptor)}
	for _, fd := range fds {
		for _, md := range fd.GetMessageTypes() {
			d.add(md)
		}
	}
	log.Infof("Loaded %d proto message types from %d files", len(d.allMessages), len(protoFiles))
	return d, nil
}

func (d *Decoder) add(md *desc.MessageDescriptor) {
	if _, seen := d.messageTypes[md.GetFullyQualifiedName()]; seen {
		return
	}
	d.messageTypes[md.GetName()] = md
	d.messageTypes[md.GetFullyQualifiedName()] = md
	d.allMessages = append(d.allMessages, md)
	for _, nested := range md.GetNestedMessageTypes() {
		if !nested.IsMapEntry() {
			d.add(nested)
		}
	}
}

// Decode uses typeName when set and otherwise guesses the type from the
// routing key and the number of fields each candidate populates.
func (d *Decoder) Decode(data []byte, typeName, routingKey string) (map[string]any, error) {
	if typeName != "" {
		return d.DecodeAs(data, typeName)
	}
	return d.DecodeWithHint(data, routingKey)
}

// DecodeWithHint decodes using a routing key hint to pick the right message type
func (d *Decoder) DecodeWithHint(data []byte, routingKey string) (map[string]any, error) {
	if d == nil || len(d.allMessages) == 0 {
		return nil, fmt.Errorf("no message types loaded")
	}

	// "shop.eu.order.created" -> "OrderCreated"
	typeHint := routingKeyToTypeHint(routingKey)

	var bestMatch *dynamic.Message
	var bestMatchName string
	bestScore := 0

	for _, md := range d.allMessages {
		msg := dynamic.NewMessage(md)
		if err := msg.Unmarshal(data); err != nil {
			continue
		}

		score := countPopulatedFields(msg)
		name := md.GetName()
		if typeHint != "" && strings.EqualFold(name, typeHint) {
			score += 1000
		}

		if score > bestScore {
			bestScore = score
			bestMatch = msg
			bestMatchName = name
		}
	}

	if bestMatch == nil {
		return nil, fmt.Errorf("could not decode with any known message type")
	}

	result := messageToMap(bestMatch)
	result["__type"] = bestMatchName
	return result, nil
}

// DecodeAs decodes using a specific message type name
func (d *Decoder) DecodeAs(data []byte, typeName string) (map[string]any, error) {
	if d == nil {
		return nil, fmt.Errorf("no message types loaded")
	}
	md, ok := d.messageTypes[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", typeName)
	}

	msg := dynamic.NewMessage(md)
	if err := msg.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", typeName, err)
	}

	result := messageToMap(msg)
	result["__type"] = md.GetName()
	return result, nil
}

// DecodeJSON decodes like Decode and returns compact JSON text.
func (d *Decoder) DecodeJSON(data []byte, typeName, routingKey string) (string, error) {
	m, err := d.Decode(data, typeName, routingKey)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding decoded message: %w", err)
	}
	return string(out), nil
}

// ListTypes returns all known fully qualified message type names, sorted.
func (d *Decoder) ListTypes() []string {
	types := make([]string, 0, len(d.allMessages))
	for _, md := range d.allMessages {
		types = append(types, md.GetFullyQualifiedName())
	}
	sort.Strings(types)
	return types
}

func routingKeyToTypeHint(routingKey string) string {
	parts := strings.Split(routingKey, ".")
	if len(parts) < 2 {
		return ""
	}
	return pascal(parts[len(parts)-2]) + pascal(parts[len(parts)-1])
}

// pascal turns "administrative_area" into "AdministrativeArea".
func pascal(s string) string {
	var sb strings.Builder
	for _, word := range strings.Split(strings.ToLower(s), "_") {
		if word == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(word)
		sb.WriteString(strings.ToUpper(string(r)))
		sb.WriteString(word[size:])
	}
	return sb.String()
}

func countPopulatedFields(msg *dynamic.Message) int {
	count := 0
	for _, fd := range msg.GetKnownFields() {
		if msg.HasField(fd) {
			count++
		}
	}
	return count
}

func messageToMap(msg *dynamic.Message) map[string]any {
	result := make(map[string]any)
	for _, fd := range msg.GetKnownFields() {
		if !msg.HasField(fd) {
			continue
		}
		result[fd.GetName()] = convertValue(msg.GetField(fd))
	}
	return result
}

func convertValue(val any) any {
	switch v := val.(type) {
	case *dynamic.Message:
		return messageToMap(v)
	case []byte:
		if isPrintable(v) {
			return string(v)
		}
		return fmt.Sprintf("0x%x", v)
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = convertValue(item)
		}
		return result
	case map[any]any:
		result := make(map[string]any, len(v))
		for k, item := range v {
			result[fmt.Sprint(k)] = convertValue(item)
		}
		return result
	default:
		return v
	}
}

func isPrintable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}

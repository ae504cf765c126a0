package resolve

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
)

// Selector picks one port out of several candidates. Implementations
// decide how: interactively, by fixed index, or by refusing.
type Selector interface {
	Select(res Resolution, ports []string) (string, error)
}

// ChoosePort applies the one/many/zero contract: a single candidate is
// used without consulting the selector, several defer to it, none is a
// NotFoundError.
func ChoosePort(sel Selector, res Resolution, ports []string) (string, error) {
	switch len(ports) {
	case 0:
		return "", &NotFoundError{User: res.User, Over: res.Over}
	case 1:
		return ports[0], nil
	default:
		if sel == nil {
			return "", fmt.Errorf("select port for user %s: no selector", res.User)
		}
		return sel.Select(res, ports)
	}
}

// PromptSelector lists the candidates and reads an index from the
// terminal, rejecting non-numeric and out-of-range input until a valid
// one is entered.
type PromptSelector struct {
	In  io.ReadCloser
	Out io.Writer
}

func (s *PromptSelector) Select(res Resolution, ports []string) (string, error) {
	out := s.Out
	if out == nil {
		out = io.Discard
	}
	fmt.Fprintf(out, "multiple ports match for user %s:\n", res.User)
	for i, port := range ports {
		fmt.Fprintf(out, "  [%d] %s\n", i, port)
	}

	prompt := promptui.Prompt{
		Label:    fmt.Sprintf("Select port [0-%d]", len(ports)-1),
		Validate: indexValidator(len(ports)),
	}
	if s.In != nil {
		prompt.Stdin = s.In
	}
	raw, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("select port for user %s: %w", res.User, err)
	}
	idx, _ := strconv.Atoi(strings.TrimSpace(raw))
	return ports[idx], nil
}

func indexValidator(count int) promptui.ValidateFunc {
	return func(input string) error {
		idx, err := strconv.Atoi(strings.TrimSpace(input))
		if err != nil {
			return fmt.Errorf("not a number")
		}
		if idx < 0 || idx >= count {
			return fmt.Errorf("index out of range")
		}
		return nil
	}
}

// IndexSelector always picks a fixed index. Used when the caller
// already knows which candidate it wants.
type IndexSelector int

func (s IndexSelector) Select(res Resolution, ports []string) (string, error) {
	idx := int(s)
	if idx < 0 || idx >= len(ports) {
		return "", fmt.Errorf("select port for user %s: index %d out of range", res.User, idx)
	}
	return ports[idx], nil
}

// FailIfAmbiguous refuses to guess. For non-interactive embeddings.
type FailIfAmbiguous struct{}

func (FailIfAmbiguous) Select(res Resolution, ports []string) (string, error) {
	return "", fmt.Errorf("ambiguous ports for user %s: %s", res.User, strings.Join(ports, " "))
}

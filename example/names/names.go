// Package names is a small protocol for a shared list of names. It backs the namebook
// command and doubles as an end-to-end exercise of the framework.
package names

import (
	"errors"
	"strings"

	"typed-rpc/definition"
	"typed-rpc/message"
	"typed-rpc/server"
)

const (
	AddNameID  message.ID = 1
	GetNamesID message.ID = 2
)

// State is the server state shared by every handler.
type State struct {
	Names []string
}

// Empty is the request of RPCs that take no argument.
type Empty struct{}

var (
	AddName  = definition.New[string, Empty](AddNameID, "AddName")
	GetNames = definition.New[Empty, []string](GetNamesID, "GetNames")

	Catalog = definition.MustCatalog(AddName, GetNames)
)

var ErrEmptyName = errors.New("name must not be empty")

func addName(s *State, name string) (Empty, error) {
	if strings.TrimSpace(name) == "" {
		return Empty{}, ErrEmptyName
	}
	s.Names = append(s.Names, name)
	return Empty{}, nil
}

func getNames(s *State, _ Empty) ([]string, error) {
	out := make([]string, len(s.Names))
	copy(out, s.Names)
	return out, nil
}

// Register installs the protocol's handlers on srv.
func Register(srv *server.Server[State]) error {
	if err := srv.Register(definition.Implement(AddName, addName)); err != nil {
		return err
	}
	return srv.Register(definition.Implement(GetNames, getNames))
}

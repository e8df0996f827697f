package permissions

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPermission indicates a permission lookup failed because it has not been registered.
	ErrUnknownPermission = errors.New("permission: unknown permission")
	// ErrCircularDependency signals that a dependency graph contains a cycle.
	ErrCircularDependency = errors.New("permission: circular dependency detected")
)

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	done
)

// ResolveDependencies returns every permission the given one transitively
// depends on, deepest first, without the permission itself.
func ResolveDependencies(permissionID string) ([]string, error) {
	perms := GetAll()
	root, ok := perms[permissionID]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownPermission, permissionID)
	}

	state := make(map[string]visitState, len(perms))
	state[permissionID] = visiting
	resolved := make([]string, 0, len(root.DependsOn))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w at %s", ErrCircularDependency, id)
		}
		perm, ok := perms[id]
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownPermission, id)
		}

		state[id] = visiting
		for _, dep := range perm.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		resolved = append(resolved, id)
		return nil
	}

	for _, dep := range root.DependsOn {
		if err := visit(dep); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

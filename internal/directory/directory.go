// Package directory reads doctor and patient identities owned by the
// identity service. The scheduling core only ever reads from it.
package directory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

var ErrPersonNotFound = errors.New("person not found")

type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

type Directory interface {
	ListByRole(ctx context.Context, role Role) ([]Person, error)
	Get(ctx context.Context, id string) (Person, error)
}

// StaticDirectory serves a fixed set of people from memory.
type StaticDirectory struct {
	mu     sync.RWMutex
	people map[string]Person
}

func NewStaticDirectory(people ...Person) *StaticDirectory {
	d := &StaticDirectory{people: make(map[string]Person, len(people))}
	for _, p := range people {
		d.people[p.ID] = p
	}
	return d
}

func (d *StaticDirectory) Add(p Person) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.people[p.ID] = p
}

func (d *StaticDirectory) ListByRole(_ context.Context, role Role) ([]Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Person
	for _, p := range d.people {
		if p.Role == role {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Person) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (d *StaticDirectory) Get(_ context.Context, id string) (Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.people[id]
	if !ok {
		return Person{}, ErrPersonNotFound
	}
	return p, nil
}

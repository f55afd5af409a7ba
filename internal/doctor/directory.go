// Package doctor is the single lookup path for doctors by spoken name.
package doctor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hackgods/doctalk-booking/internal/appointment"
)

// Lister is the slice of appointment.Repository the directory needs.
type Lister interface {
	ListDoctors(ctx context.Context) ([]appointment.Doctor, error)
}

type Directory struct {
	repo Lister
}

func NewDirectory(repo Lister) *Directory {
	return &Directory{repo: repo}
}

// Roster returns active doctors currently accepting appointments.
func (d *Directory) Roster(ctx context.Context) ([]appointment.Doctor, error) {
	all, err := d.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return lo.Filter(all, func(doc appointment.Doctor, _ int) bool {
		return doc.IsActive && doc.IsAvailable
	}), nil
}

// Find resolves a spoken doctor name against the roster.
func (d *Directory) Find(ctx context.Context, name string) (*appointment.Doctor, error) {
	roster, err := d.Roster(ctx)
	if err != nil {
		return nil, err
	}
	doc, ok := Match(roster, name)
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return doc, nil
}

// FindByID resolves a doctor by UUID or doctor code.
func (d *Directory) FindByID(ctx context.Context, id string) (*appointment.Doctor, error) {
	roster, err := d.Roster(ctx)
	if err != nil {
		return nil, err
	}
	id = strings.TrimSpace(id)
	parsed, parseErr := uuid.Parse(id)

	doc, ok := lo.Find(roster, func(doc appointment.Doctor) bool {
		if parseErr == nil && doc.ID == parsed {
			return true
		}
		return strings.EqualFold(doc.Code, id)
	})
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return &doc, nil
}

// Names lists up to limit display names from roster, in roster order.
func Names(roster []appointment.Doctor, limit int) []string {
	names := lo.Map(roster, func(doc appointment.Doctor, _ int) string {
		return doc.DisplayName()
	})
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names
}

// Match applies the lookup order: exact full name, exact last name,
// partial last name, partial first name. The first tier with a hit wins,
// in roster order.
func Match(roster []appointment.Doctor, name string) (*appointment.Doctor, bool) {
	q := CleanName(name)
	if q == "" {
		return nil, false
	}
	tokens := strings.Fields(q)
	lastToken := tokens[len(tokens)-1]

	tiers := []func(first, last string) bool{
		func(first, last string) bool { return first+" "+last == q },
		func(_, last string) bool { return last == q || (len(tokens) > 1 && last == lastToken) },
		func(_, last string) bool { return strings.Contains(last, q) },
		func(first, _ string) bool { return strings.Contains(first, q) },
	}

	for _, tier := range tiers {
		doc, ok := lo.Find(roster, func(doc appointment.Doctor) bool {
			return tier(strings.ToLower(doc.FirstName), strings.ToLower(doc.LastName))
		})
		if ok {
			return &doc, true
		}
	}
	return nil, false
}

// Aliases are the lowercase phrases a caller may use for doc.
func Aliases(doc appointment.Doctor) []string {
	full := strings.ToLower(strings.TrimSpace(doc.FirstName + " " + doc.LastName))
	return []string{
		"dr. " + full,
		"dr " + full,
		"doctor " + full,
		full,
		"dr. " + strings.ToLower(doc.LastName),
		"doctor " + strings.ToLower(doc.LastName),
		strings.ToLower(doc.LastName),
	}
}

// CleanName lowercases name and strips courtesy titles.
func CleanName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"doctor ", "dr. ", "dr.", "dr "} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.Trim(s, " .,!?")
	return strings.Join(strings.Fields(s), " ")
}

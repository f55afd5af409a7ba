package doctor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/doctalk-booking/internal/appointment"
)

type failingLister struct{}

func (failingLister) ListDoctors(context.Context) ([]appointment.Doctor, error) {
	return nil, errors.New("db down")
}

func seeded() (*Directory, *appointment.MemoryRepository) {
	repo := appointment.NewMemoryRepository()
	for _, d := range []appointment.Doctor{
		{Code: "DOC001", FirstName: "John", LastName: "Smith", Specialty: "Family Medicine", IsActive: true, IsAvailable: true},
		{Code: "DOC002", FirstName: "Sarah", LastName: "Johnson", Specialty: "Cardiology", IsActive: true, IsAvailable: true},
		{Code: "DOC003", FirstName: "Emily", LastName: "Brown", Specialty: "Pediatrics", IsActive: true, IsAvailable: true},
		{Code: "DOC004", FirstName: "Mark", LastName: "Smithers", Specialty: "Dermatology", IsActive: true, IsAvailable: true},
		{Code: "DOC005", FirstName: "Away", LastName: "Doctor", IsActive: true, IsAvailable: false},
	} {
		repo.AddDoctor(d)
	}
	return NewDirectory(repo), repo
}

func TestFindOrder(t *testing.T) {
	dir, _ := seeded()
	ctx := context.Background()

	tests := []struct {
		query string
		want  string
	}{
		{"Dr. John Smith", "Dr. John Smith"},
		{"doctor sarah johnson", "Dr. Sarah Johnson"},
		{"Smith", "Dr. John Smith"},
		{"smithe", "Dr. Mark Smithers"},
		{"Dr. Johns", "Dr. Sarah Johnson"},
		{"emi", "Dr. Emily Brown"},
		{"Johnny Brown", "Dr. Emily Brown"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			doc, err := dir.Find(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.DisplayName())
		})
	}
}

func TestFindSkipsUnavailableAndUnknown(t *testing.T) {
	dir, _ := seeded()

	_, err := dir.Find(context.Background(), "Away Doctor")
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)

	_, err = dir.Find(context.Background(), "Dr. Who")
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)

	_, err = dir.Find(context.Background(), "  ")
	assert.ErrorIs(t, err, appointment.ErrDoctorNotFound)
}

func TestFindByID(t *testing.T) {
	dir, repo := seeded()
	doctors, err := repo.ListDoctors(context.Background())
	require.NoError(t, err)

	doc, err := dir.FindByID(context.Background(), "doc003")
	require.NoError(t, err)
	assert.Equal(t, "Brown", doc.LastName)

	doc, err = dir.FindByID(context.Background(), doctors[0].ID.String())
	require.NoError(t, err)
	assert.Equal(t, doctors[0].ID, doc.ID)
}

func TestNames(t *testing.T) {
	dir, _ := seeded()

	roster, err := dir.Roster(context.Background())
	require.NoError(t, err)
	names := Names(roster, 3)
	assert.Len(t, names, 3)
	assert.Equal(t, roster[0].DisplayName(), names[0])
	assert.NotContains(t, names, "Dr. Away Doctor")

	assert.Len(t, Names(roster, 0), len(roster))
	assert.Empty(t, Names(nil, 3))
}

func TestRosterPropagatesErrors(t *testing.T) {
	dir := NewDirectory(failingLister{})
	_, err := dir.Find(context.Background(), "Smith")
	require.Error(t, err)
	assert.NotErrorIs(t, err, appointment.ErrDoctorNotFound)
}

func TestAliasesAndCleanName(t *testing.T) {
	doc := appointment.Doctor{FirstName: "John", LastName: "Smith"}
	aliases := Aliases(doc)
	assert.Contains(t, aliases, "dr. john smith")
	assert.Contains(t, aliases, "john smith")
	assert.Contains(t, aliases, "smith")

	assert.Equal(t, "john smith", CleanName("  Dr. John   Smith. "))
	assert.Equal(t, "smith", CleanName("Doctor Smith"))
}

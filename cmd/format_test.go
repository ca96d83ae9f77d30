package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/fin-groups/internal/entity"
)

func ptr[T any](v T) *T { return &v }

func TestFormatGroup(t *testing.T) {
	members := []entity.Entity{
		{ID: "company:UA:1", Type: entity.TypeCompany, Name: "Company 1", Country: "UA"},
		{ID: "person:abc", Type: entity.TypePerson, Name: "Федоренко Антоніна Миколаївна"},
	}
	edges := []entity.Ownership{
		{OwnerID: "person:abc", OwnedID: "company:UA:1", Role: "Засновник", SharePercent: ptr(33.5), ControlLevel: entity.ControlDirect},
	}

	var buf bytes.Buffer
	formatGroup(&buf, members, edges)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "TYPE")
	assert.Contains(t, output, "company:UA:1")
	assert.Contains(t, output, "Федоренко")
	assert.Contains(t, output, "OWNER")
	assert.Contains(t, output, "33.5%")
	assert.Contains(t, output, "direct")
}

func TestFormatGroup_NoEdges(t *testing.T) {
	var buf bytes.Buffer
	formatGroup(&buf, []entity.Entity{{ID: "company:UA:1", Type: entity.TypeCompany, Name: "Solo"}}, nil)

	output := buf.String()
	assert.Contains(t, output, "Solo")
	assert.NotContains(t, output, "OWNER")
}

func TestFormatGroups(t *testing.T) {
	var buf bytes.Buffer
	formatGroups(&buf, [][]string{
		{"company:UA:1", "company:UA:2"},
		{"company:UA:7", "company:UA:8", "company:UA:9"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 4)
	assert.Contains(t, lines[0], "GROUP")
	assert.Contains(t, lines[2], "company:UA:1, company:UA:2")
	assert.Contains(t, lines[3], "3")
}

func TestFormatFrontier(t *testing.T) {
	var buf bytes.Buffer
	formatFrontier(&buf, []entity.CrawlState{
		{EntityID: "company:UA:abc", EntityType: entity.TypeCompany, Status: entity.CrawlPending, Depth: 2},
	})

	output := buf.String()
	assert.Contains(t, output, "ENTITY")
	assert.Contains(t, output, "company:UA:abc")
	assert.Contains(t, output, "pending")
	assert.Contains(t, output, "2")
}

func TestFormatShare(t *testing.T) {
	assert.Equal(t, "-", formatShare(nil))
	assert.Equal(t, "50%", formatShare(ptr(50.0)))
	assert.Equal(t, "12.25%", formatShare(ptr(12.25)))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Федор...", truncate("Федоренко Антоніна", 8))
}

package npc

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestDefinition_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		def     Definition
		wantErr []string // substrings that must appear in the error
	}{
		{
			name: "valid minimal",
			def:  Definition{ID: "warden", Name: "Ser Aldric"},
		},
		{
			name: "valid full",
			def: Definition{
				ID:        "warden",
				ProjectID: "proj-1",
				Name:      "Ser Aldric",
				Persona:   "Gruff but fair.",
				Voice:     VoiceConfig{Provider: "elevenlabs", VoiceID: "v1", PitchShift: -2, SpeedFactor: 1.1},
			},
		},
		{
			name:    "missing id",
			def:     Definition{Name: "Ser Aldric"},
			wantErr: []string{"id must not be empty"},
		},
		{
			name:    "missing name",
			def:     Definition{ID: "warden"},
			wantErr: []string{"name must not be empty"},
		},
		{
			name: "speed factor out of range",
			def: Definition{
				ID: "warden", Name: "Ser Aldric",
				Voice: VoiceConfig{SpeedFactor: 3.0},
			},
			wantErr: []string{"speed_factor"},
		},
		{
			name: "pitch shift out of range",
			def: Definition{
				ID: "warden", Name: "Ser Aldric",
				Voice: VoiceConfig{PitchShift: 12},
			},
			wantErr: []string{"pitch_shift"},
		},
		{
			name:    "multiple violations",
			def:     Definition{Voice: VoiceConfig{SpeedFactor: 0.1}},
			wantErr: []string{"id must not be empty", "name must not be empty", "speed_factor"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.def.Validate()
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %v", tt.wantErr)
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("Validate() = %q, missing %q", err, want)
				}
			}
		})
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()

	def := &Definition{
		ID:             "warden",
		Name:           "Ser Aldric",
		Persona:        "A weathered city guard who distrusts outsiders.",
		KnowledgeScope: []string{"city gates", "local gossip"},
		BehaviorRules:  []string{"Never reveal the password."},
	}

	prompt := BuildSystemPrompt(def, []string{"The east gate is closed for repairs."})

	for _, want := range []string{
		"You are Ser Aldric",
		"weathered city guard",
		"city gates, local gossip",
		"The east gate is closed for repairs.",
		"Never reveal the password.",
		"exit_conversation",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildSystemPrompt_Minimal(t *testing.T) {
	t.Parallel()

	prompt := BuildSystemPrompt(&Definition{ID: "x", Name: "Mira"}, nil)
	if !strings.Contains(prompt, "You are Mira") {
		t.Errorf("prompt missing name:\n%s", prompt)
	}
	if strings.Contains(prompt, "Relevant facts") {
		t.Errorf("prompt has knowledge section without knowledge:\n%s", prompt)
	}
	if strings.Contains(prompt, "Hard rules") {
		t.Errorf("prompt has rules section without rules:\n%s", prompt)
	}
}

func TestDefinition_VoiceProfile(t *testing.T) {
	t.Parallel()

	def := &Definition{
		ID: "warden", Name: "Ser Aldric",
		Voice: VoiceConfig{Provider: "elevenlabs", VoiceID: "v1", PitchShift: -2, SpeedFactor: 0.9},
	}
	vp := def.VoiceProfile()
	if vp.ID != "v1" || vp.Provider != "elevenlabs" || vp.Name != "Ser Aldric" {
		t.Errorf("VoiceProfile() = %+v", vp)
	}
	if vp.PitchShift != -2 || vp.SpeedFactor != 0.9 {
		t.Errorf("VoiceProfile() = %+v", vp)
	}
}

func TestMemStore_CRUD(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemStore()
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	def := &Definition{ID: "warden", ProjectID: "proj-1", Name: "Ser Aldric"}
	if err := s.Create(ctx, def); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if def.CreatedAt.IsZero() {
		t.Error("Create did not set CreatedAt")
	}
	if err := s.Create(ctx, def); err == nil {
		t.Fatal("Create duplicate: want error")
	}

	got, err := s.Get(ctx, "warden")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Name != "Ser Aldric" {
		t.Fatalf("Get = %+v", got)
	}

	got, err = s.Get(ctx, "missing")
	if err != nil || got != nil {
		t.Fatalf("Get missing = %+v, %v, want nil, nil", got, err)
	}

	def.Persona = "Updated."
	if err := s.Update(ctx, def); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Get(ctx, "warden")
	if got.Persona != "Updated." {
		t.Errorf("Update not applied: %+v", got)
	}

	if err := s.Update(ctx, &Definition{ID: "missing", Name: "X"}); err == nil {
		t.Fatal("Update missing: want error")
	}

	if err := s.Upsert(ctx, &Definition{ID: "mira", ProjectID: "proj-2", Name: "Mira"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List all = %d defs, want 2", len(all))
	}
	if all[0].Name != "Mira" || all[1].Name != "Ser Aldric" {
		t.Errorf("List not sorted by name: %v, %v", all[0].Name, all[1].Name)
	}

	proj1, _ := s.List(ctx, "proj-1")
	if len(proj1) != 1 || proj1[0].ID != "warden" {
		t.Fatalf("List proj-1 = %+v", proj1)
	}

	if err := s.Delete(ctx, "warden"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "warden"); err != nil {
		t.Fatalf("Delete twice: %v", err)
	}
	got, _ = s.Get(ctx, "warden")
	if got != nil {
		t.Errorf("Get after Delete = %+v, want nil", got)
	}
}

func TestMemStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemStore()
	if err := s.Create(ctx, &Definition{ID: "warden", Name: "Ser Aldric"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, _ := s.Get(ctx, "warden")
	got.Name = "Mutated"

	again, _ := s.Get(ctx, "warden")
	if again.Name != "Ser Aldric" {
		t.Errorf("store entry mutated through Get result: %q", again.Name)
	}
}

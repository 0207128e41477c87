package types

import "testing"

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{
			name:   "valid click",
			action: Action{Type: ActionClick, Parameters: map[string]string{"x": "100", "y": "200"}},
		},
		{
			name:    "click missing y",
			action:  Action{Type: ActionClick, Parameters: map[string]string{"x": "100"}},
			wantErr: true,
		},
		{
			name:   "valid type",
			action: Action{Type: ActionTypeText, Parameters: map[string]string{"text": "hello"}},
		},
		{
			name: "valid drag",
			action: Action{Type: ActionDrag, Parameters: map[string]string{
				"from_x": "0", "from_y": "0", "to_x": "50", "to_y": "50"}},
		},
		{
			name:    "drag missing corners",
			action:  Action{Type: ActionDrag, Parameters: map[string]string{"from_x": "0"}},
			wantErr: true,
		},
		{
			name:   "stop needs nothing",
			action: Action{Type: ActionStop},
		},
		{
			name:    "unknown type rejected",
			action:  Action{Type: "hover", Parameters: map[string]string{"x": "1", "y": "2"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSubtask(t *testing.T) {
	a := NewSubtask("open chrome")
	b := NewSubtask("open chrome")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("subtask IDs must be unique and non-empty: %q vs %q", a.ID, b.ID)
	}
	if a.Complexity != 0.5 {
		t.Errorf("default complexity = %v, want 0.5", a.Complexity)
	}
}

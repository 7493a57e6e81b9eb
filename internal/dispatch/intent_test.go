package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/collabcore/docserver/internal/lseq"
)

func TestRefUnmarshal(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantID   lseq.ID
		wantTemp string
		wantErr  bool
	}{
		{name: "component array", in: `[100, 200]`, wantID: lseq.ID{100, 200}},
		{name: "dotted string", in: `"00100.00200"`, wantID: lseq.ID{100, 200}},
		{name: "placeholder", in: `"temp_3"`, wantTemp: "temp_3"},
		{name: "garbage string", in: `"not-an-id"`, wantErr: true},
		{name: "object", in: `{"x":1}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Ref
			err := json.Unmarshal([]byte(tt.in), &r)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("unmarshal %s succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unmarshal %s: %v", tt.in, err)
			}
			if tt.wantTemp != "" && r.Temp != tt.wantTemp {
				t.Fatalf("temp = %q, want %q", r.Temp, tt.wantTemp)
			}
			if tt.wantTemp == "" && !lseq.Equal(r.ID, tt.wantID) {
				t.Fatalf("id = %v, want %v", r.ID, tt.wantID)
			}
		})
	}
}

func TestBatchEditDecodeShapes(t *testing.T) {
	// Shape (c): primitive sequence with a placeholder reference.
	raw := `{"ops":[{"op":"insert","text":"ab"},{"op":"split","targetId":"temp_0","offset":1,"text":"X"}]}`
	var batch BatchEdit
	if err := json.Unmarshal([]byte(raw), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(batch.Ops) != 2 {
		t.Fatalf("ops = %d, want 2", len(batch.Ops))
	}
	if batch.Ops[1].TargetID == nil || batch.Ops[1].TargetID.Temp != "temp_0" {
		t.Fatalf("targetId ref = %+v, want temp_0", batch.Ops[1].TargetID)
	}
}

package types

import "testing"

func TestDatasetDescriptor_Validate(t *testing.T) {
	cases := []struct {
		name    string
		d       DatasetDescriptor
		wantErr bool
	}{
		{
			name: "valid",
			d: DatasetDescriptor{
				ID:    "support",
				Name:  "Support tickets",
				Files: []DatasetFile{{Name: "tickets", Path: "support/tickets.csv"}},
			},
		},
		{
			name:    "missing id",
			d:       DatasetDescriptor{Files: []DatasetFile{{Name: "t", Path: "p"}}},
			wantErr: true,
		},
		{
			name:    "no files",
			d:       DatasetDescriptor{ID: "x"},
			wantErr: true,
		},
		{
			name: "duplicate file name",
			d: DatasetDescriptor{
				ID: "x",
				Files: []DatasetFile{
					{Name: "t", Path: "a.csv"},
					{Name: "t", Path: "b.csv"},
				},
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDatasetDescriptor_ColumnNames(t *testing.T) {
	d := DatasetDescriptor{
		ID: "support",
		Files: []DatasetFile{{
			Name: "tickets",
			Path: "support/tickets.csv",
			Schema: []ColumnSchema{
				{Column: "id", Type: "int"},
				{Column: "status", Type: "string"},
			},
		}},
	}

	if got := d.ColumnNames("tickets"); len(got) != 2 || got[0] != "id" || got[1] != "status" {
		t.Fatalf("ColumnNames() = %v", got)
	}
	if got := d.ColumnNames("missing"); got != nil {
		t.Fatalf("ColumnNames(missing) = %v, want nil", got)
	}
}

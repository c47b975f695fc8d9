package groundtruth

import (
	"testing"
)

func TestAssign_Empty(t *testing.T) {
	if result := assign(nil); result != nil {
		t.Errorf("expected nil for empty cost matrix, got %v", result)
	}
}

func TestAssign_NoColumns(t *testing.T) {
	result := assign([][]float64{{}, {}})
	if len(result) != 2 || result[0] != -1 || result[1] != -1 {
		t.Errorf("expected [-1 -1], got %v", result)
	}
}

func TestAssign_SquareOptimal(t *testing.T) {
	//   [1 2 3]   optimal: 1 + 4 + 5 = 10
	//   [4 4 6]
	//   [9 8 5]
	cost := [][]float64{
		{1, 2, 3},
		{4, 4, 6},
		{9, 8, 5},
	}
	result := assign(cost)
	if len(result) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(result))
	}
	total := 0.0
	for i, j := range result {
		if j < 0 {
			t.Fatalf("row %d unassigned", i)
		}
		total += cost[i][j]
	}
	if total != 10 {
		t.Errorf("expected optimal cost 10, got %v (assignments: %v)", total, result)
	}
}

func TestAssign_Forbidden(t *testing.T) {
	cost := [][]float64{
		{1, 2},
		{forbidden, forbidden},
	}
	result := assign(cost)
	if result[0] != 0 {
		t.Errorf("expected row 0 -> col 0, got %d", result[0])
	}
	if result[1] != -1 {
		t.Errorf("expected row 1 unassigned, got %d", result[1])
	}
}

func TestAssign_MoreRowsThanColumns(t *testing.T) {
	cost := [][]float64{
		{5},
		{1},
		{3},
	}
	result := assign(cost)
	if result[1] != 0 || result[0] != -1 || result[2] != -1 {
		t.Errorf("expected only row 1 assigned, got %v", result)
	}
}

func TestAssign_MoreColumnsThanRows(t *testing.T) {
	cost := [][]float64{
		{7, 2, 9, 4},
	}
	if result := assign(cost); result[0] != 1 {
		t.Errorf("expected row 0 -> col 1, got %v", result)
	}
}

func TestAssign_MoreRowsThanColumnsKeepsSmallDifferences(t *testing.T) {
	cost := [][]float64{
		{40.05, forbidden},
		{2.5, forbidden},
		{forbidden, forbidden},
	}
	result := assign(cost)
	if result[1] != 0 || result[0] != -1 || result[2] != -1 {
		t.Errorf("expected only row 1 assigned, got %v", result)
	}
}

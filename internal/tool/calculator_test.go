package tool

import (
	"context"
	"testing"
)

func calcResult(t *testing.T, expr string) any {
	t.Helper()
	res, err := NewCalculatorTool().Execute(context.Background(), map[string]any{"expression": expr}, nil)
	if err != nil {
		t.Fatalf("Execute(%q): %v", expr, err)
	}
	return res.(map[string]any)["result"]
}

func TestCalculatorArithmetic(t *testing.T) {
	cases := []struct {
		expr string
		want int64
	}{
		{"12*7", 84},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10-4-3", 3},
		{"-5+8", 3},
		{"100/4", 25},
	}
	for _, tc := range cases {
		if got := calcResult(t, tc.expr); got != tc.want {
			t.Errorf("%s = %v, want %d", tc.expr, got, tc.want)
		}
	}
}

func TestCalculatorDecimals(t *testing.T) {
	got := calcResult(t, "7/2")
	if got != 3.5 {
		t.Errorf("7/2 = %v, want 3.5", got)
	}
}

func TestCalculatorRejectsUnsafeInput(t *testing.T) {
	tool := NewCalculatorTool()
	for _, expr := range []string{"2+x", "import os", "1;2", "2**3"} {
		if _, err := tool.Execute(context.Background(), map[string]any{"expression": expr}, nil); err == nil {
			t.Errorf("Execute(%q) succeeded, want error", expr)
		}
	}
}

func TestCalculatorDivisionByZero(t *testing.T) {
	_, err := NewCalculatorTool().Execute(context.Background(), map[string]any{"expression": "1/0"}, nil)
	if err == nil {
		t.Fatal("expected division-by-zero error")
	}
}

func TestCalculatorMalformedExpression(t *testing.T) {
	for _, expr := range []string{"(1+2", "1+", "*3", ""} {
		if _, err := NewCalculatorTool().Execute(context.Background(), map[string]any{"expression": expr}, nil); err == nil {
			t.Errorf("Execute(%q) succeeded, want error", expr)
		}
	}
}

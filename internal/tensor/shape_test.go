package tensor

import "testing"

func TestShapeNumElements(t *testing.T) {
	cases := []struct {
		shape Shape
		want  int
	}{
		{Shape{}, 1},
		{Shape{5}, 5},
		{Shape{2, 3}, 6},
		{Shape{4, 1, 28, 28}, 3136},
	}

	for _, tc := range cases {
		if got := tc.shape.NumElements(); got != tc.want {
			t.Errorf("%v NumElements = %d, want %d", tc.shape, got, tc.want)
		}
	}
}

func TestShapeComputeStrides(t *testing.T) {
	strides := Shape{2, 3, 4}.ComputeStrides()
	want := []int{12, 4, 1}

	for i := range want {
		if strides[i] != want[i] {
			t.Fatalf("strides = %v, want %v", strides, want)
		}
	}
}

func TestBroadcastShapes(t *testing.T) {
	cases := []struct {
		a, b    Shape
		want    Shape
		expand  bool
		wantErr bool
	}{
		{Shape{3, 5}, Shape{3, 5}, Shape{3, 5}, false, false},
		{Shape{3, 1}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{1, 5}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{5}, Shape{3, 5}, Shape{3, 5}, true, false},
		{Shape{3, 4}, Shape{3, 5}, nil, false, true},
	}

	for _, tc := range cases {
		got, expand, err := BroadcastShapes(tc.a, tc.b)
		if tc.wantErr {
			if err == nil {
				t.Errorf("BroadcastShapes(%v, %v): expected error", tc.a, tc.b)
			}
			continue
		}
		if err != nil {
			t.Errorf("BroadcastShapes(%v, %v): %v", tc.a, tc.b, err)
			continue
		}
		if !got.Equal(tc.want) || expand != tc.expand {
			t.Errorf("BroadcastShapes(%v, %v) = %v/%v, want %v/%v", tc.a, tc.b, got, expand, tc.want, tc.expand)
		}
	}
}

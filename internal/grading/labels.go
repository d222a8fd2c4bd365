package grading

import "fmt"

// ClassLabel is a diabetic-retinopathy severity grade.
type ClassLabel int

// The order matches the output order of the trained model.
const (
	NoDR ClassLabel = iota
	Mild
	Moderate
	Severe
	ProliferativeDR
)

// NumClasses is the number of grades the model scores.
const NumClasses = 5

var labelNames = [NumClasses]string{
	NoDR:            "No_DR",
	Mild:            "Mild",
	Moderate:        "Moderate",
	Severe:          "Severe",
	ProliferativeDR: "Proliferative_DR",
}

// Labels returns every grade in model output order.
func Labels() []ClassLabel {
	out := make([]ClassLabel, NumClasses)
	for i := range out {
		out[i] = ClassLabel(i)
	}
	return out
}

// String returns the wire name of the label.
func (l ClassLabel) String() string {
	if l < 0 || int(l) >= NumClasses {
		return fmt.Sprintf("ClassLabel(%d)", int(l))
	}
	return labelNames[l]
}

// MarshalText encodes the label by name.
func (l ClassLabel) MarshalText() ([]byte, error) {
	if l < 0 || int(l) >= NumClasses {
		return nil, fmt.Errorf("unknown class label %d", int(l))
	}
	return []byte(labelNames[l]), nil
}

// CheckCardinality verifies that a model emitting outputs scores per image
// lines up with the label enumeration.
func CheckCardinality(outputs int64) error {
	if outputs != NumClasses {
		return fmt.Errorf("model emits %d scores, expected %d class labels", outputs, NumClasses)
	}
	return nil
}

package capture

import (
	"fmt"
	"math/rand/v2"

	"github.com/danmuck/edgeexport/internal/tensor"
)

// Calibration is the concrete input contract used to drive capture. Its name, shape and
// dtype become the program input; the values exist to run the kernels once. An empty
// name keeps the traced input name.
type Calibration struct {
	Name  string
	Shape tensor.Shape
	DType tensor.DType
	Seed  uint64
}

func DefaultCalibration() Calibration {
	return Calibration{
		Name:  "x",
		Shape: tensor.Shape{1, 3, 224, 224},
		DType: tensor.Float32,
		Seed:  1,
	}
}

func (c Calibration) Validate() error {
	if !c.Shape.Valid() || c.Shape.Rank() == 0 {
		return fmt.Errorf("calibration shape %s is not concrete", c.Shape)
	}
	if c.DType != tensor.Float32 {
		return fmt.Errorf("calibration dtype %s is not supported, want %s", c.DType, tensor.Float32)
	}
	return nil
}

// Input returns the synthetic calibration tensor, uniform in [-1, 1).
func (c Calibration) Input() *tensor.Tensor {
	rng := rand.New(rand.NewPCG(c.Seed, c.Seed^0x5851f42d4c957f2d))
	t := tensor.New(c.DType, c.Shape)
	for i := range t.Data {
		t.Data[i] = rng.Float32()*2 - 1
	}
	return t
}

func (c Calibration) String() string {
	return fmt.Sprintf("%s%s:%s", c.Name, c.Shape, c.DType)
}

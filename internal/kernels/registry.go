package kernels

import (
	"sort"
	"sync"

	"github.com/danmuck/edgeexport/internal/graph"
	"github.com/danmuck/edgeexport/internal/tensor"
)

// Func evaluates one operator. Every kernel produces exactly one output.
type Func func(in []*tensor.Tensor, attrs graph.Attrs) (*tensor.Tensor, error)

var (
	mu       sync.RWMutex
	registry = map[string]Func{}
)

func init() {
	Register("identity", identity)
	Register("conv2d", conv2d)
	Register("relu", relu)
	Register("clamp", clamp)
	Register("sigmoid", sigmoid)
	Register("tanh", tanh)
	Register("batch_norm", batchNorm)
	Register("max_pool2d", maxPool2d)
	Register("avg_pool2d", avgPool2d)
	Register("adaptive_avg_pool2d", adaptiveAvgPool2d)
	Register("flatten", flatten)
	Register("linear", linear)
	Register("add", add)
	Register("mul", mul)
	Register("softmax", softmax)
	Register("cumsum", cumsum)
	Register("sum", sum)
	Register("gt", gt)
}

func Register(name string, fn Func) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = fn
}

func Lookup(name string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names lists registered kernels in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

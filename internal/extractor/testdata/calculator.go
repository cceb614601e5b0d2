package calc

// Calculator adds numbers.
type Calculator struct {
	total int
}

// Add adds n to the running total.
func (c *Calculator) Add(n int) int {
	c.total += n
	return c.total
}

// New returns a zeroed Calculator.
func New() *Calculator {
	return &Calculator{}
}

package exchange

import "fmt"

// New returns the adapter for a registered exchange name. Any new
// exchange is a new variant added here.
func New(name string) (Client, error) {
	switch name {
	case "gdax":
		return NewGDAX(), nil
	case "ftx":
		return NewFTX(), nil
	case "ftxus":
		return NewFTXUS(), nil
	}
	return nil, fmt.Errorf("unknown exchange %q", name)
}

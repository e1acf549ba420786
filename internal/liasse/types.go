package liasse

// DefaultTarget is the canonical number of units in one liasse.
const DefaultTarget = 100

// MaxUnits caps the units a single pile, and all piles together, may hold.
const MaxUnits = 10_000_000

// Pile is one input quantity of units. Index is the pile's position in the
// caller's slot array and never changes once assigned.
type Pile struct {
	Index  int `json:"index"`
	Amount int `json:"amount"`
}

// Step is a single withdrawal from one pile.
type Step struct {
	Index     int `json:"index"`
	Take      int `json:"take"`
	From      int `json:"from"`
	Remaining int `json:"remaining"`
}

// Bundle groups the steps that together form one liasse.
// Timestamp is zero while the bundle is pending and holds the completion time
// in unix milliseconds once it has been recorded in the ledger. It doubles as
// the bundle's identity for undo.
type Bundle struct {
	Number     int    `json:"number"`
	Steps      []Step `json:"steps"`
	Total      int    `json:"total"`
	IsComplete bool   `json:"isComplete"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

// State is what a caller persists per denomination: the pile slot array and
// the completed bundles in completion order.
type State struct {
	Piles     []int    `json:"piles"`
	Completed []Bundle `json:"completed"`
}

// Summary aggregates the active piles against a target.
type Summary struct {
	TotalUnits      int `json:"totalUnits"`
	CompleteBundles int `json:"completeBundles"`
	RemainderUnits  int `json:"remainderUnits"`
	ActivePiles     int `json:"activePiles"`
}

// PilesFromAmounts enumerates a slot array into piles, keeping zero slots so
// that indices line up with the array positions.
func PilesFromAmounts(amounts []int) []Pile {
	piles := make([]Pile, len(amounts))
	for i, amount := range amounts {
		piles[i] = Pile{Index: i, Amount: amount}
	}
	return piles
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := State{
		Piles:     make([]int, len(s.Piles)),
		Completed: make([]Bundle, len(s.Completed)),
	}
	copy(out.Piles, s.Piles)
	for i, b := range s.Completed {
		out.Completed[i] = b.clone()
	}
	return out
}

func (b Bundle) clone() Bundle {
	steps := make([]Step, len(b.Steps))
	copy(steps, b.Steps)
	b.Steps = steps
	return b
}

func sumActive(amounts []int) int {
	total := 0
	for _, amount := range amounts {
		if amount > 0 {
			total += amount
		}
	}
	return total
}

// Package rete implements the discrimination network tickers are evaluated
// against. Alpha nodes test one condition each and are shared across rules
// through their canonical key, beta nodes AND the alphas of one rule, and
// terminal nodes carry the matched rule. Networks are built detached and
// swapped in atomically by the Manager; a built network is safe for
// concurrent reads but not concurrent mutation.
package rete

import (
	"fmt"
	"sort"

	"github.com/tapescan/tapescan/internal/domain"
)

// AlphaNode tests a single condition. One alpha exists per distinct
// canonical condition key; refs counts the beta nodes built on it.
type AlphaNode struct {
	ID        int
	Condition domain.Condition

	refs int
}

// BetaNode joins the alpha results of one rule's conditions. Parents keeps
// the alpha ids in the rule's condition order.
type BetaNode struct {
	ID       int
	RuleID   string
	Parents  []int
	Terminal int
}

// TerminalNode is the endpoint of one rule's join chain.
type TerminalNode struct {
	ID   int
	Rule *domain.ScanRule
}

// Stats is a point-in-time census of the network.
type Stats struct {
	AlphaNodes  int `json:"alpha_nodes"`
	BetaNodes   int `json:"beta_nodes"`
	Terminals   int `json:"terminal_nodes"`
	TotalRules  int `json:"total_rules"`
	SystemRules int `json:"system_rules"`
	UserRules   int `json:"user_rules"`
}

// Network holds the node graph and its two lookup indexes: canonical
// condition key to alpha id, and rule id to terminal id.
type Network struct {
	alphas    map[int]*AlphaNode
	betas     map[int]*BetaNode
	terminals map[int]*TerminalNode

	conditionIndex map[string]int
	ruleIndex      map[string]int

	nextID int

	totalRules  int
	systemRules int
	userRules   int
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		alphas:         make(map[int]*AlphaNode),
		betas:          make(map[int]*BetaNode),
		terminals:      make(map[int]*TerminalNode),
		conditionIndex: make(map[string]int),
		ruleIndex:      make(map[string]int),
	}
}

// AddRule inserts one rule into the network. Conditions that already have
// an alpha node (same canonical key, possibly from another rule) reuse it.
func (n *Network) AddRule(rule *domain.ScanRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if _, exists := n.ruleIndex[rule.ID]; exists {
		return fmt.Errorf("rule %s is already loaded", rule.ID)
	}
	if len(rule.Conditions) == 0 {
		return fmt.Errorf("rule %s has no conditions", rule.ID)
	}

	parents := make([]int, 0, len(rule.Conditions))
	for _, cond := range rule.Conditions {
		key := cond.CanonicalKey()
		alphaID, shared := n.conditionIndex[key]
		if !shared {
			alphaID = n.allocateID()
			n.alphas[alphaID] = &AlphaNode{ID: alphaID, Condition: cond}
			n.conditionIndex[key] = alphaID
		}
		n.alphas[alphaID].refs++
		parents = append(parents, alphaID)
	}

	betaID := n.allocateID()
	terminalID := n.allocateID()
	n.betas[betaID] = &BetaNode{ID: betaID, RuleID: rule.ID, Parents: parents, Terminal: terminalID}
	n.terminals[terminalID] = &TerminalNode{ID: terminalID, Rule: rule}
	n.ruleIndex[rule.ID] = terminalID

	n.totalRules++
	if rule.OwnerType == domain.OwnerSystem {
		n.systemRules++
	} else {
		n.userRules++
	}
	return nil
}

// RemoveRule detaches one rule and prunes alpha nodes no other rule
// references, so an add followed by a remove restores the previous node
// set exactly. Returns false when the rule is not loaded.
func (n *Network) RemoveRule(ruleID string) bool {
	terminalID, ok := n.ruleIndex[ruleID]
	if !ok {
		return false
	}
	terminal := n.terminals[terminalID]

	var beta *BetaNode
	for _, b := range n.betas {
		if b.Terminal == terminalID {
			beta = b
			break
		}
	}
	if beta != nil {
		for _, alphaID := range beta.Parents {
			alpha, exists := n.alphas[alphaID]
			if !exists {
				continue
			}
			alpha.refs--
			if alpha.refs <= 0 {
				delete(n.conditionIndex, alpha.Condition.CanonicalKey())
				delete(n.alphas, alphaID)
			}
		}
		delete(n.betas, beta.ID)
	}

	delete(n.terminals, terminalID)
	delete(n.ruleIndex, ruleID)

	n.totalRules--
	if terminal.Rule.OwnerType == domain.OwnerSystem {
		n.systemRules--
	} else {
		n.userRules--
	}
	return true
}

// HasRule reports whether a rule id is loaded.
func (n *Network) HasRule(ruleID string) bool {
	_, ok := n.ruleIndex[ruleID]
	return ok
}

// Rule returns the loaded rule with the given id.
func (n *Network) Rule(ruleID string) (*domain.ScanRule, bool) {
	terminalID, ok := n.ruleIndex[ruleID]
	if !ok {
		return nil, false
	}
	return n.terminals[terminalID].Rule, true
}

// Rules returns every loaded rule sorted by id.
func (n *Network) Rules() []*domain.ScanRule {
	out := make([]*domain.ScanRule, 0, len(n.terminals))
	for _, t := range n.terminals {
		out = append(out, t.Rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats counts nodes and rules by owner.
func (n *Network) Stats() Stats {
	return Stats{
		AlphaNodes:  len(n.alphas),
		BetaNodes:   len(n.betas),
		Terminals:   len(n.terminals),
		TotalRules:  n.totalRules,
		SystemRules: n.systemRules,
		UserRules:   n.userRules,
	}
}

func (n *Network) allocateID() int {
	n.nextID++
	return n.nextID
}

package model

// OrderType tags the variant of an order. Field requirements are a function
// of the tag; see the orders package for the validation rules.
type OrderType string

const (
	OrderMove       OrderType = "move"
	OrderAttack     OrderType = "attack"
	OrderAttackMove OrderType = "attack_move"
	OrderDeploy     OrderType = "deploy"
	OrderBuild      OrderType = "build"
	OrderTrain      OrderType = "train"
	OrderSell       OrderType = "sell"
	OrderRepair     OrderType = "repair"
	OrderSetRally   OrderType = "set_rally"
	OrderStop       OrderType = "stop"
	OrderScatter    OrderType = "scatter"
	OrderGuard      OrderType = "guard"
	OrderPatrol     OrderType = "patrol"
	OrderUsePower   OrderType = "use_power"
)

// Known reports whether t is in the enumerated order-type set.
func (t OrderType) Known() bool {
	switch t {
	case OrderMove, OrderAttack, OrderAttackMove, OrderDeploy, OrderBuild,
		OrderTrain, OrderSell, OrderRepair, OrderSetRally, OrderStop,
		OrderScatter, OrderGuard, OrderPatrol, OrderUsePower:
		return true
	}
	return false
}

// RequiresUnits reports whether the tag belongs to the unit-order class
// (a non-empty unit_ids list is mandatory).
func (t OrderType) RequiresUnits() bool {
	switch t {
	case OrderMove, OrderAttack, OrderAttackMove, OrderDeploy, OrderRepair,
		OrderStop, OrderScatter, OrderGuard, OrderPatrol:
		return true
	}
	return false
}

// RequiresBuilding reports whether the tag belongs to the building-order
// class (a building_id is mandatory).
func (t OrderType) RequiresBuilding() bool {
	switch t {
	case OrderBuild, OrderTrain, OrderSell, OrderSetRally:
		return true
	}
	return false
}

// RequiresTarget reports whether the tag belongs to the position-order class
// (a target of exactly two coordinates is mandatory).
func (t OrderType) RequiresTarget() bool {
	switch t {
	case OrderMove, OrderAttackMove, OrderPatrol, OrderSetRally, OrderUsePower:
		return true
	}
	return false
}

// RequiresTargetID reports whether the tag needs a target actor identifier.
func (t OrderType) RequiresTargetID() bool {
	switch t {
	case OrderAttack, OrderGuard, OrderRepair:
		return true
	}
	return false
}

// Order is a single action request from an agent. The tag determines which
// of the optional fields must be present. Pointer fields distinguish
// "absent" from zero values during decoding.
type Order struct {
	Type       OrderType `json:"type"`
	UnitIDs    []int     `json:"unit_ids,omitempty"`
	BuildingID *int      `json:"building_id,omitempty"`
	Target     []int     `json:"target,omitempty"`
	TargetID   *int      `json:"target_id,omitempty"`
	BuildType  string    `json:"build_type,omitempty"`
	Count      *int      `json:"count,omitempty"`
	PowerType  string    `json:"power_type,omitempty"`
}

// TargetCell returns the order's target as a Cell. Only valid when
// len(Target) == 2; the validator checks the shape first.
func (o *Order) TargetCell() Cell {
	return Cell{X: o.Target[0], Y: o.Target[1]}
}

package orders

type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Resource names the guarded operations of the order workflow.
type Resource string

const (
	ResourceRaiseRequest   Resource = "requests.raise"
	ResourceResolveRequest Resource = "requests.resolve"
	ResourceOrderStatus    Resource = "orders.status"
	ResourceShipment       Resource = "orders.shipment"
	ResourceStock          Resource = "products.stock"
)

// Permissions is keyed by role, then resource.
type Permissions map[Role]map[Resource]bool

var DefaultPermissions = Permissions{
	RoleCustomer: {
		ResourceRaiseRequest: true,
	},
	RoleStaff: {
		ResourceRaiseRequest:   true,
		ResourceResolveRequest: true,
		ResourceOrderStatus:    true,
		ResourceShipment:       true,
	},
	RoleAdmin: {
		ResourceRaiseRequest:   true,
		ResourceResolveRequest: true,
		ResourceOrderStatus:    true,
		ResourceShipment:       true,
		ResourceStock:          true,
	},
}

func (p Permissions) Allows(r Role, res Resource) bool {
	return p[r][res]
}

// ParseRole defaults unknown or empty values to customer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleStaff, RoleAdmin:
		return Role(s)
	}
	return RoleCustomer
}

// Authorize returns a Forbidden error unless role may use res.
func Authorize(r Role, res Resource) error {
	if !DefaultPermissions.Allows(r, res) {
		return forbidden("role %q is not allowed to access %s", r, res)
	}
	return nil
}

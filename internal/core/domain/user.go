package domain

// LocalUser is an account in the gateway's user directory. The directory
// itself is an external collaborator behind the ports.UserDirectory
// interface; this is the projection the login flow works with.
type LocalUser struct {
	ID        int64
	Name      string
	Email     string
	RealName  string
	Firstname string
	Phone     string
	Mobile    string

	// Active and Deleted gate resolution: SSO never resurrects a soft
	// deleted account and never signs in a deactivated one.
	Active  bool
	Deleted bool

	// PasswordHash is unusable for JIT-provisioned accounts; such
	// accounts can only ever sign in through the IdP.
	PasswordHash string

	// Rights assignment, applied at provisioning time.
	ProfileID int64
	EntityID  int64
	GroupID   int64
	Recursive bool
}

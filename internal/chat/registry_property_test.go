package chat

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type registryOp struct {
	kind    string
	connID  string
	tenant  string
	session string
}

func genRegistryOps() gopter.Gen {
	connIDs := gen.OneConstOf("c1", "c2", "c3", "c4")
	tenants := gen.OneConstOf("t1", "t2", "t3")
	kinds := gen.OneConstOf("register", "join", "touch", "deregister")
	opGen := gopter.CombineGens(kinds, connIDs, tenants).Map(func(values []interface{}) registryOp {
		return registryOp{
			kind:    values[0].(string),
			connID:  values[1].(string),
			tenant:  values[2].(string),
			session: fmt.Sprintf("s-%s", values[1].(string)),
		}
	})
	return gen.SliceOf(opGen)
}

// The registry must stay internally consistent under any interleaving of
// lifecycle operations: every record is a member of at most one room, that
// room is its tenant, and per-tenant listings agree with point lookups.
func TestRegistryConsistencyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("membership stays consistent", prop.ForAll(
		func(ops []registryOp) bool {
			registry := NewRegistry(nil)
			alive := make(map[string]bool)

			for _, op := range ops {
				switch op.kind {
				case "register":
					if !alive[op.connID] {
						registry.Register(newFakeConn(op.connID), nil)
						alive[op.connID] = true
					}
				case "join":
					_, _, _ = registry.JoinTenant(op.connID, op.tenant, op.session, RoleVisitor)
				case "touch":
					registry.Touch(op.connID)
				case "deregister":
					registry.Deregister(op.connID)
					delete(alive, op.connID)
				}
			}

			if registry.Len() != len(alive) {
				return false
			}
			for _, rec := range registry.All() {
				if !alive[rec.ConnID] {
					return false
				}
				if len(rec.Rooms) > 1 {
					return false
				}
				if rec.Joined() && (len(rec.Rooms) != 1 || rec.Rooms[0] != rec.TenantID) {
					return false
				}
				if !rec.Joined() && len(rec.Rooms) != 0 {
					return false
				}
			}
			for _, tenant := range []string{"t1", "t2", "t3"} {
				for _, member := range registry.ListByTenant(tenant) {
					rec, ok := registry.Get(member.ConnID)
					if !ok || rec.TenantID != tenant {
						return false
					}
				}
			}
			return true
		},
		genRegistryOps(),
	))

	properties.TestingRun(t)
}

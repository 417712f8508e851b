package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	secrules "github.com/end2endlogic-com/quantum-framework-sub001"
)

// RedisAccessListResolver contributes a named access list kept in Redis
// sets (key: acl:{list}:{principalId}) into the filter variable bundle.
// Supports is deliberately permissive; an absent set just resolves to an
// empty collection.
type RedisAccessListResolver struct {
	client *redis.Client
	name   string
	keyFmt string
}

func NewRedisAccessListResolver(client *redis.Client, name string) *RedisAccessListResolver {
	return &RedisAccessListResolver{client: client, name: name, keyFmt: "acl:%s:%s"}
}

func (r *RedisAccessListResolver) key(principalID string) string {
	return fmt.Sprintf(r.keyFmt, r.name, principalID)
}

func (r *RedisAccessListResolver) Key() string { return r.name }

func (r *RedisAccessListResolver) Supports(pctx *secrules.PrincipalContext, rctx *secrules.ResourceContext) bool {
	return true
}

func (r *RedisAccessListResolver) Resolve(ctx context.Context, pctx *secrules.PrincipalContext, rctx *secrules.ResourceContext) ([]string, error) {
	return r.client.SMembers(ctx, r.key(pctx.UserID)).Result()
}

// Grant adds entries to a principal's access list.
func (r *RedisAccessListResolver) Grant(ctx context.Context, principalID string, ids ...string) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return r.client.SAdd(ctx, r.key(principalID), members...).Err()
}

// Revoke removes entries from a principal's access list.
func (r *RedisAccessListResolver) Revoke(ctx context.Context, principalID string, ids ...string) error {
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return r.client.SRem(ctx, r.key(principalID), members...).Err()
}

var _ secrules.AccessListResolver = (*RedisAccessListResolver)(nil)

package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"rentbot/internal/pkg/bootstrap"
	"rentbot/internal/pkg/logger"
	"rentbot/internal/service/marketplace/domain"
)

type compiledRule struct {
	name     string
	priority int
	program  cel.Program
}

// CELPriorityPolicy 是 port.PriorityPolicy 的规则引擎实现。
// 每条规则是一个返回 bool 的 CEL 表达式，按配置顺序求值，第一条命中的规则决定优先级；
// 没有规则命中时使用默认优先级。
//
// 表达式可用的变量：
//
//	price, title, description, location, category_id (无分类时为 0),
//	owner_role, owner_age_hours (广告创建时作者的注册时长)
type CELPriorityPolicy struct {
	env *cel.Env

	mu    sync.RWMutex
	rules []compiledRule
}

func newPriorityEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("price", cel.DoubleType),
		cel.Variable("title", cel.StringType),
		cel.Variable("description", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("category_id", cel.IntType),
		cel.Variable("owner_role", cel.StringType),
		cel.Variable("owner_age_hours", cel.DoubleType),
		cel.CrossTypeNumericComparisons(true),
	)
}

// NewCELPriorityPolicy 编译规则，任意一条无法编译都会返回错误
func NewCELPriorityPolicy(rules []bootstrap.PriorityRule) (*CELPriorityPolicy, error) {
	env, err := newPriorityEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	p := &CELPriorityPolicy{env: env}
	if err := p.Reload(rules); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload 替换规则集。编译失败时保留旧规则。
func (p *CELPriorityPolicy) Reload(rules []bootstrap.PriorityRule) error {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		ast, iss := p.env.Compile(r.When)
		if iss != nil && iss.Err() != nil {
			return fmt.Errorf("priority rule %s: %w", name, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return fmt.Errorf("priority rule %s: expression must return bool, got %s", name, ast.OutputType())
		}
		prg, err := p.env.Program(ast)
		if err != nil {
			return fmt.Errorf("priority rule %s: %w", name, err)
		}
		compiled = append(compiled, compiledRule{
			name:     name,
			priority: domain.ClampPriority(r.Priority),
			program:  prg,
		})
	}

	p.mu.Lock()
	p.rules = compiled
	p.mu.Unlock()
	return nil
}

// Watch 在配置热更新时重新编译规则
func (p *CELPriorityPolicy) Watch(holder *bootstrap.Holder) {
	holder.OnChange(func(cfg *bootstrap.Config) {
		if err := p.Reload(cfg.Moderation.PriorityRules); err != nil {
			logger.L().Warn().Err(err).Msg("priority rules update rejected, keeping previous rules")
			return
		}
		logger.L().Info().Int("rules", len(cfg.Moderation.PriorityRules)).Msg("priority rules reloaded")
	})
}

func (p *CELPriorityPolicy) Priority(ctx context.Context, ad *domain.Ad, owner *domain.User) int {
	p.mu.RLock()
	rules := p.rules
	p.mu.RUnlock()
	if len(rules) == 0 {
		return domain.DefaultPriority
	}

	vars := priorityVars(ad, owner)
	for _, r := range rules {
		out, _, err := r.program.Eval(vars)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("rule", r.name).Int64("ad_id", ad.ID).Msg("priority rule evaluation failed")
			continue
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return r.priority
		}
	}
	return domain.DefaultPriority
}

func priorityVars(ad *domain.Ad, owner *domain.User) map[string]interface{} {
	var categoryID int64
	if ad.CategoryID != nil {
		categoryID = *ad.CategoryID
	}
	role := string(domain.RoleUser)
	var ageHours float64
	if owner != nil {
		role = string(owner.Role)
		if !owner.CreatedAt.IsZero() && ad.CreatedAt.After(owner.CreatedAt) {
			ageHours = ad.CreatedAt.Sub(owner.CreatedAt).Hours()
		}
	}
	return map[string]interface{}{
		"price":           ad.Price,
		"title":           strings.ToLower(ad.Title),
		"description":     strings.ToLower(ad.Description),
		"location":        strings.ToLower(ad.Location),
		"category_id":     categoryID,
		"owner_role":      role,
		"owner_age_hours": ageHours,
	}
}

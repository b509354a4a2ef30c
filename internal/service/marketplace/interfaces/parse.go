package interfaces

import (
	"strconv"
	"strings"

	"rentbot/internal/service/marketplace/domain"
)

// parseCriteria 解析形如 "mountain bike location=Old Town min=100 max=500 category=Bikes" 的输入。
// 第一个 key=value 之前的词是关键字；每个过滤项的值延续到下一个 key= 为止。
func parseCriteria(input string, categories []*domain.Category) (domain.Criteria, error) {
	var (
		c        domain.Criteria
		keywords []string
		key      string
		value    []string
	)
	flush := func() error {
		if key == "" {
			return nil
		}
		err := applyFilter(&c, key, strings.Join(value, " "), categories)
		key, value = "", nil
		return err
	}
	for _, tok := range strings.Fields(input) {
		if k, v, ok := strings.Cut(tok, "="); ok && isFilterKey(k) {
			if err := flush(); err != nil {
				return c, err
			}
			key = strings.ToLower(k)
			if v != "" {
				value = append(value, v)
			}
			continue
		}
		if key == "" {
			keywords = append(keywords, tok)
		} else {
			value = append(value, tok)
		}
	}
	if err := flush(); err != nil {
		return c, err
	}
	c.Keywords = strings.Join(keywords, " ")
	return c, c.Validate()
}

func isFilterKey(k string) bool {
	switch strings.ToLower(k) {
	case "location", "loc", "min", "max", "category", "cat":
		return true
	}
	return false
}

func applyFilter(c *domain.Criteria, key, value string, categories []*domain.Category) error {
	if value == "" {
		return domain.NewValidationError(key, "a value is required after "+key+"=")
	}
	switch key {
	case "location", "loc":
		c.Location = value
	case "min", "max":
		p, err := parsePrice(value)
		if err != nil {
			return err
		}
		if key == "min" {
			c.MinPrice = &p
		} else {
			c.MaxPrice = &p
		}
	case "category", "cat":
		id, err := findCategory(value, categories)
		if err != nil {
			return err
		}
		c.CategoryID = &id
	}
	return nil
}

// findCategory 接受分类 ID 或名称（不区分大小写）
func findCategory(value string, categories []*domain.Category) (int64, error) {
	id, numErr := strconv.ParseInt(value, 10, 64)
	for _, cat := range categories {
		if (numErr == nil && cat.ID == id) || strings.EqualFold(cat.Name, value) {
			return cat.ID, nil
		}
	}
	return 0, domain.NewValidationError("category", "unknown category "+value)
}

// parsePrice 接受 "1 500", "1500,50", "500₽" 等写法
func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "₽"))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, domain.NewValidationError("price", "please send the price as a number, for example 1500")
	}
	if p < 0 {
		return 0, domain.NewValidationError("price", "price must not be negative")
	}
	return p, nil
}

// parseID 解析回调参数中的 ID
func parseID(parts []string, i int) (int64, error) {
	if i >= len(parts) {
		return 0, domain.NewValidationError("callback", "this button is no longer valid")
	}
	id, err := strconv.ParseInt(parts[i], 10, 64)
	if err != nil {
		return 0, domain.NewValidationError("callback", "this button is no longer valid")
	}
	return id, nil
}

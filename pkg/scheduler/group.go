package scheduler

import (
	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/parse"
)

// GroupByDomain batches records by domain, keeping first-seen order for both
// the groups and the records inside them. Records whose URL cannot be
// validated are grouped under the empty domain, which Classify rejects.
func GroupByDomain(records []models.URLRecord) []models.DomainGroup {
	index := make(map[string]int)
	var groups []models.DomainGroup
	for _, rec := range records {
		domain := ""
		if u, err := parse.ValidateCrawlURL(rec.URL); err == nil {
			domain = parse.DomainOf(u)
		}
		i, ok := index[domain]
		if !ok {
			i = len(groups)
			index[domain] = i
			groups = append(groups, models.DomainGroup{Domain: domain})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	return groups
}

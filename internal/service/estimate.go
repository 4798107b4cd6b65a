package service

import (
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

const defaultUserEstimate = 100

// batchEstimate is telemetry only; it never gates execution.
type batchEstimate struct {
	Items      int
	Executions int
}

type estimateFunc func(job domain.JobConfig) batchEstimate

var estimatePolicies = map[domain.BatchType]estimateFunc{
	mustBatchType(domain.ProcessingIndividual, domain.SourceUsers): func(job domain.JobConfig) batchEstimate {
		n := estimateUsers(job.Filters)
		return batchEstimate{Items: n, Executions: n}
	},
	mustBatchType(domain.ProcessingBatch, domain.SourceUsers): func(job domain.JobConfig) batchEstimate {
		return batchEstimate{Items: estimateUsers(job.Filters), Executions: 1}
	},
	mustBatchType(domain.ProcessingIndividual, domain.SourceCategories): func(job domain.JobConfig) batchEstimate {
		return batchEstimate{Items: len(job.Categories), Executions: len(job.Categories)}
	},
	mustBatchType(domain.ProcessingBatch, domain.SourceCategories): func(job domain.JobConfig) batchEstimate {
		return batchEstimate{Items: len(job.Categories), Executions: 1}
	},
}

func estimateFor(bt domain.BatchType, job domain.JobConfig) batchEstimate {
	policy, ok := estimatePolicies[bt]
	if !ok {
		return batchEstimate{}
	}
	return policy(job)
}

func estimateUsers(filters map[string]any) int {
	if ids, ok := filters["user_ids"].([]any); ok {
		return len(ids)
	}
	if ids, ok := filters["user_ids"].([]string); ok {
		return len(ids)
	}
	for _, key := range []string{"limit", "max_users"} {
		if n := toInt(filters[key]); n > 0 {
			return n
		}
	}
	return defaultUserEstimate
}

func mustBatchType(method domain.ProcessingMethod, source domain.DataSourceType) domain.BatchType {
	bt, err := domain.NewBatchType(method, source)
	if err != nil {
		panic(err)
	}
	return bt
}

package runners

import (
	"github.com/gocrave/runner-api/internal/domain"
	"github.com/gocrave/runner-api/internal/ports/out/docstore"
)

// Document layout. Everything under runnerIndex is written in the same commit as the
// record it points at.

func RunnerPath(typ domain.RunnerType, id domain.RunnerID) docstore.Path {
	return docstore.Join("runners", string(typ), string(id))
}

func SubscriptionPath(id domain.RunnerID) docstore.Path {
	return docstore.Join("subscriptions", string(id))
}

func IndexByAuthUIDPath(uid domain.AuthUID) docstore.Path {
	return docstore.Join("runnerIndex", "byAuthUid", string(uid))
}

func IndexByRunnerIDPath(id domain.RunnerID) docstore.Path {
	return docstore.Join("runnerIndex", "byRunnerId", string(id))
}

func IndexByPhonePath(phone string) docstore.Path {
	return docstore.Join("runnerIndex", "byPhone", phone)
}

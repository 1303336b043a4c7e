package vsphere

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vapi/tags"
	"k8s.io/klog/v2"
)

// hostAffinityTagCategory groups the host-affinity tags Deploy attaches
// to a VM when its template names one, so operators can query vCenter
// inventory by affinity group without parsing VM names.
const hostAffinityTagCategory = "hypervisor-client-host-affinity"

// applyHostAffinityTag ensures the category and tag named by affinityTag
// exist, then attaches the tag to obj. A no-op when the REST session
// didn't establish (tag manager unavailable) or affinityTag is empty.
func (c *Client) applyHostAffinityTag(ctx context.Context, affinityTag string, obj object.Reference) error {
	if affinityTag == "" || c.tagManager == nil {
		return nil
	}

	logger := klog.FromContext(ctx)

	categoryID, err := c.ensureTagCategory(ctx, hostAffinityTagCategory, "Host affinity grouping for deployed VMs")
	if err != nil {
		return err
	}

	tagID, err := c.ensureTag(ctx, categoryID, affinityTag)
	if err != nil {
		return err
	}

	if err := c.tagManager.AttachTag(ctx, tagID, obj); err != nil {
		return fmt.Errorf("failed to attach host affinity tag %s: %w", affinityTag, err)
	}

	logger.V(2).Info("attached host affinity tag", "tag", affinityTag, "object", obj.Reference())
	return nil
}

func (c *Client) ensureTagCategory(ctx context.Context, name, description string) (string, error) {
	categories, err := c.tagManager.GetCategories(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list tag categories: %w", err)
	}
	for _, cat := range categories {
		if cat.Name == name {
			return cat.ID, nil
		}
	}

	id, err := c.tagManager.CreateCategory(ctx, &tags.Category{
		Name:            name,
		Description:     description,
		Cardinality:     "MULTIPLE",
		AssociableTypes: []string{"VirtualMachine"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create tag category %s: %w", name, err)
	}
	return id, nil
}

func (c *Client) ensureTag(ctx context.Context, categoryID, name string) (string, error) {
	existing, err := c.tagManager.GetTagsForCategory(ctx, categoryID)
	if err != nil {
		return "", fmt.Errorf("failed to list tags for category: %w", err)
	}
	for _, t := range existing {
		if t.Name == name {
			return t.ID, nil
		}
	}

	id, err := c.tagManager.CreateTag(ctx, &tags.Tag{
		Name:       name,
		CategoryID: categoryID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create tag %s: %w", name, err)
	}
	return id, nil
}
